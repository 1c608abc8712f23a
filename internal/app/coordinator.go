package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assessx-live/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SessionRepository is the registry of live sessions keyed by test code.
type SessionRepository interface {
	// GetOrCreate validates the code and creates the session on first use.
	// Concurrent callers for one code all receive the same *Session.
	GetOrCreate(ctx context.Context, testCode string) (*Session, error)
	Get(testCode string) (*Session, bool)
	// Sweep evicts finished sessions and returns their codes.
	Sweep(now time.Time, grace time.Duration) []string
}

// AnswerKeyProvider resolves a test code to its authoritative definition.
type AnswerKeyProvider interface {
	Resolve(ctx context.Context, testCode string) (domain.TestDefinition, error)
}

// ResultSink durably stores scoring records.
type ResultSink interface {
	Record(ctx context.Context, record domain.ScoringRecord) error
}

// ResultReader lists stored scoring records for a test code.
type ResultReader interface {
	List(ctx context.Context, testCode string) ([]domain.ScoringRecord, error)
}

// RetryPolicy bounds result sink retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Backoff: 200 * time.Millisecond}

const recordTimeout = 30 * time.Second

// Membership is what a connection holds after joining or observing a session.
// Cancel must be called to release the subscription.
type Membership struct {
	TestCode string
	Roster   domain.RosterUpdate
	Status   domain.StatusSnapshot
	Events   <-chan domain.Event
	Cancel   func()
}

// Coordinator contains the live session use cases.
type Coordinator struct {
	sessions SessionRepository
	keys     AnswerKeyProvider
	results  ResultSink
	broker   Broker
	retry    RetryPolicy
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) {
		if p.Attempts > 0 {
			c.retry = p
		}
	}
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(sessions SessionRepository, keys AnswerKeyProvider, results ResultSink, broker Broker, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions: sessions,
		keys:     keys,
		results:  results,
		broker:   broker,
		retry:    DefaultRetryPolicy,
		validate: validator.New(),
		now:      time.Now,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join admits a student connection. The subscription is taken before the
// roster mutation so the joiner receives its own roster broadcast.
func (c *Coordinator) Join(ctx context.Context, connID string, req domain.JoinRequest) (Membership, error) {
	if err := c.validate.Struct(req); err != nil {
		return Membership{}, fmt.Errorf("%w: %v", domain.ErrInvalidJoin, err)
	}

	m, err := c.enter(ctx, req.TestCode, func(session *Session) (domain.RosterUpdate, domain.StatusSnapshot, error) {
		return session.Join(domain.Participant{
			ConnectionID: connID,
			Name:         req.Name,
			RollNumber:   req.RollNumber,
			MobileNumber: req.MobileNumber,
		})
	})
	if err != nil {
		return Membership{}, err
	}

	c.log.Info().
		Str("test_code", req.TestCode).
		Str("conn_id", connID).
		Str("student", req.Name).
		Int("count", m.Roster.Count).
		Msg("student joined lobby")
	return m, nil
}

// Observe subscribes an administrator connection without adding it to the roster.
func (c *Coordinator) Observe(ctx context.Context, connID, testCode string) (Membership, error) {
	if testCode == "" {
		return Membership{}, domain.ErrUnknownTestCode
	}
	m, err := c.enter(ctx, testCode, func(session *Session) (domain.RosterUpdate, domain.StatusSnapshot, error) {
		return session.Observe(connID)
	})
	if err != nil {
		return Membership{}, err
	}

	c.log.Info().Str("test_code", testCode).Str("conn_id", connID).Msg("observer joined")
	return m, nil
}

// enter subscribes to the session for testCode and applies admit. A session
// swept between lookup and admission is looked up once more, which creates
// a fresh one.
func (c *Coordinator) enter(ctx context.Context, testCode string, admit func(*Session) (domain.RosterUpdate, domain.StatusSnapshot, error)) (Membership, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := c.sessions.GetOrCreate(ctx, testCode)
		if err != nil {
			return Membership{}, err
		}

		events, cancel := c.broker.Subscribe(session.Topic())
		roster, status, err := admit(session)
		if errors.Is(err, errSessionEvicted) {
			// The sweep may already have closed the topic that Subscribe recreated.
			cancel()
			c.broker.Close(session.Topic())
			continue
		}
		if err != nil {
			cancel()
			return Membership{}, err
		}
		return Membership{
			TestCode: testCode,
			Roster:   roster,
			Status:   status,
			Events:   events,
			Cancel:   cancel,
		}, nil
	}
	return Membership{}, domain.ErrSessionNotFound
}

// Start begins the exam for everyone in the session. Repeated calls are no-ops.
func (c *Coordinator) Start(_ context.Context, connID, testCode string) (domain.Started, bool, error) {
	session, err := c.observedSession(connID, testCode)
	if err != nil {
		return domain.Started{}, false, err
	}
	started, changed := session.Start()
	if changed {
		c.log.Info().Str("test_code", testCode).Int64("start_time", started.StartTime).Msg("test started")
	}
	return started, changed, nil
}

// Stop ends the exam for everyone in the session. Repeated calls are no-ops.
func (c *Coordinator) Stop(_ context.Context, connID, testCode string) (bool, error) {
	session, err := c.observedSession(connID, testCode)
	if err != nil {
		return false, err
	}
	changed := session.Stop()
	if changed {
		c.log.Info().Str("test_code", testCode).Msg("test stopped by admin")
	}
	return changed, nil
}

// Submit scores a participant's answers once and writes the record. The answer
// key is re-resolved server side; client-supplied keys are never trusted.
func (c *Coordinator) Submit(ctx context.Context, connID, testCode string, sub domain.Submission) (domain.ScoreResult, error) {
	session, ok := c.sessions.Get(testCode)
	if !ok {
		return domain.ScoreResult{}, domain.ErrSessionNotFound
	}

	participant, err := session.beginSubmit(connID)
	if err != nil {
		c.log.Warn().Err(err).Str("test_code", testCode).Str("conn_id", connID).Msg("submission rejected")
		return domain.ScoreResult{}, err
	}

	// The connection may drop mid-submit; the record must still be written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	test, err := c.keys.Resolve(writeCtx, testCode)
	if err != nil {
		session.abortSubmit(connID)
		c.log.Error().Err(err).Str("test_code", testCode).Msg("answer key unavailable at scoring")
		return domain.ScoreResult{}, fmt.Errorf("%w: resolve answer key: %v", domain.ErrScoringFailure, err)
	}

	breakdown := ScoreSubmission(test, sub.Answers)
	record := domain.ScoringRecord{
		SessionID:      session.ID(),
		TestID:         test.ID,
		TestCode:       testCode,
		ConnectionID:   connID,
		StudentName:    participant.Name,
		RollNumber:     participant.RollNumber,
		MobileNumber:   participant.MobileNumber,
		Score:          breakdown.Score,
		TotalMarks:     breakdown.TotalMarks,
		TotalQuestions: breakdown.TotalQuestions,
		CorrectAnswers: breakdown.CorrectAnswers,
		TimeTaken:      sub.TimeTaken,
		ViolationCount: max(sub.ViolationCount, participant.Violations),
		Answers:        breakdown.Details,
		SubmittedAt:    c.now(),
	}

	if err := c.record(writeCtx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			session.completeSubmit(connID)
			return domain.ScoreResult{}, err
		}
		session.abortSubmit(connID)
		c.log.Error().Err(err).
			Str("test_code", testCode).
			Str("conn_id", connID).
			Str("student", participant.Name).
			Msg("result sink write failed, submission not saved")
		return domain.ScoreResult{}, fmt.Errorf("%w: %v", domain.ErrScoringFailure, err)
	}
	session.completeSubmit(connID)

	c.log.Info().
		Str("test_code", testCode).
		Str("student", participant.Name).
		Float64("score", breakdown.Score).
		Int("correct", breakdown.CorrectAnswers).
		Int("total", breakdown.TotalQuestions).
		Msg("exam submitted and graded")

	return domain.ScoreResult{
		Score:          breakdown.Score,
		Total:          breakdown.TotalMarks,
		CorrectAnswers: breakdown.CorrectAnswers,
		TotalQuestions: breakdown.TotalQuestions,
	}, nil
}

// ReportViolation counts a proctoring violation for a participant.
func (c *Coordinator) ReportViolation(_ context.Context, connID, testCode string) (int, error) {
	session, ok := c.sessions.Get(testCode)
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	count, err := session.ReportViolation(connID)
	if err != nil {
		return count, err
	}
	c.log.Debug().Str("test_code", testCode).Str("conn_id", connID).Int("violations", count).Msg("violation reported")
	return count, nil
}

// Leave handles a disconnect. Only the session the connection belongs to is touched.
func (c *Coordinator) Leave(_ context.Context, connID, testCode string) {
	session, ok := c.sessions.Get(testCode)
	if !ok {
		return
	}
	if roster, changed := session.Leave(connID); changed {
		c.log.Info().Str("test_code", testCode).Str("conn_id", connID).Int("count", roster.Count).Msg("participant left")
	}
}

// Status returns the current roster and lifecycle status of a live session.
func (c *Coordinator) Status(testCode string) (domain.RosterUpdate, domain.StatusSnapshot, error) {
	session, ok := c.sessions.Get(testCode)
	if !ok {
		return domain.RosterUpdate{}, domain.StatusSnapshot{}, domain.ErrSessionNotFound
	}
	roster, status := session.Snapshot()
	return roster, status, nil
}

// RunJanitor evicts finished sessions every interval until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.sessions.Sweep(c.now(), grace); len(evicted) > 0 {
				c.log.Info().Strs("test_codes", evicted).Msg("evicted finished sessions")
			}
		}
	}
}

func (c *Coordinator) observedSession(connID, testCode string) (*Session, error) {
	session, ok := c.sessions.Get(testCode)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !session.IsObserver(connID) {
		return nil, domain.ErrNotObserver
	}
	return session, nil
}

// record writes to the sink with bounded exponential retries. A duplicate is
// permanent and returned as is.
func (c *Coordinator) record(ctx context.Context, record domain.ScoringRecord) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.Backoff
	eb.MaxInterval = 10 * c.retry.Backoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retry.Attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.results.Record(ctx, record)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			return backoff.Permanent(err)
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Str("test_code", record.TestCode).Msg("result sink write failed")
		return err
	}, policy)
}
