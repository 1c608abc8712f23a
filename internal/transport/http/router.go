package http

import (
	"errors"
	"net/http"
	"time"

	"assessx-live/internal/app"
	"assessx-live/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps groups what the HTTP surface needs.
type RouterDeps struct {
	WS             *WSHandler
	Coordinator    *app.Coordinator
	Results        app.ResultReader
	AllowedOrigins []string
	Log            zerolog.Logger
}

type sessionView struct {
	State     domain.SessionState `json:"state"`
	StartTime int64               `json:"startTime,omitempty"`
	Duration  int                 `json:"duration"`
	Roster    domain.RosterUpdate `json:"roster"`
}

// NewRouter configures the gin engine: health, websocket and read-only REST routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Log))

	corsConfig := cors.DefaultConfig()
	if len(deps.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = deps.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapF(deps.WS.ServeWS))

	api := router.Group("/api")
	{
		api.GET("/sessions/:code", sessionHandler(deps.Coordinator))
		api.GET("/results/:code", resultsHandler(deps.Results))
	}
	return router
}

func sessionHandler(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		roster, status, err := coord.Status(c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionView{
			State:     status.State,
			StartTime: status.StartTime,
			Duration:  status.Duration,
			Roster:    roster,
		})
	}
}

func resultsHandler(results app.ResultReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if results == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "results are not readable in this deployment"})
			return
		}
		records, err := results.List(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": records})
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrUnknownTestCode):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.Error(err) //nolint:errcheck
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if len(c.Errors) > 0 {
			ev = log.Error().Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
