package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"assessx-live/internal/app"
	"assessx-live/internal/domain"
	"assessx-live/internal/infra/memory"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const testCode = "482913"

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.ResultStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	loader := memory.NewStaticTestLoader(map[string]domain.TestDefinition{testCode: {
		ID:       "test-1",
		Code:     testCode,
		Duration: 30,
		Questions: []domain.Question{{
			Type:  domain.QuestionSingle,
			Marks: 2,
			Options: []domain.Option{
				{ID: "A", Text: "3"},
				{ID: "B", Text: "4", Correct: true},
			},
		}},
	}})
	keys := memory.NewTestRepository(loader, time.Minute)
	broker := memory.NewBroker(64, zerolog.Nop())
	results := memory.NewResultStore()
	coord := app.NewCoordinator(memory.NewSessionStore(keys, broker), keys, results, broker, zerolog.Nop())

	router := NewRouter(RouterDeps{
		WS:          NewWSHandler(coord, nil, 64, zerolog.Nop()),
		Coordinator: coord,
		Results:     results,
		Log:         zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, results
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// expect reads until a message of type typ passing match arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	return expectWithin(t, conn, typ, match, 3*time.Second)
}

func expectWithin(t *testing.T, conn *websocket.Conn, typ string, match func(json.RawMessage) bool, wait time.Duration) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func rosterCount(n int) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var r domain.RosterUpdate
		return json.Unmarshal(raw, &r) == nil && r.Count == n
	}
}

func errorMessage(raw json.RawMessage) string {
	var p errorPayload
	_ = json.Unmarshal(raw, &p)
	return p.Message
}

func join(name string) map[string]string {
	return map[string]string{"testCode": testCode, "name": name, "rollNumber": "R-" + name, "mobileNumber": "555-0100"}
}

func TestLiveSessionFlow(t *testing.T) {
	srv, results := newTestServer(t)

	admin := dial(t, srv)
	send(t, admin, msgObserverJoin, map[string]string{"testCode": testCode})
	expect(t, admin, msgStatusSnapshot, nil)

	student := dial(t, srv)
	send(t, student, msgJoin, join("Alice"))
	snapshot := expect(t, student, msgStatusSnapshot, nil)
	var status domain.StatusSnapshot
	_ = json.Unmarshal(snapshot, &status)
	if status.State != domain.StateWaiting {
		t.Fatalf("expected waiting status, got %+v", status)
	}
	expect(t, admin, string(domain.EventRosterUpdate), rosterCount(1))

	send(t, admin, msgStart, map[string]string{"testCode": testCode})
	started := expect(t, student, string(domain.EventStarted), nil)
	var s domain.Started
	_ = json.Unmarshal(started, &s)
	if s.StartTime == 0 || s.Duration != 30 {
		t.Fatalf("unexpected started payload: %s", started)
	}

	send(t, student, msgSubmit, map[string]any{"testCode": testCode, "answers": map[string]any{"0": "B"}, "timeTaken": "01:00"})
	var score domain.ScoreResult
	_ = json.Unmarshal(expect(t, student, msgScoreResult, nil), &score)
	if score.Score != 2 || score.Total != 2 || score.CorrectAnswers != 1 {
		t.Fatalf("unexpected score: %+v", score)
	}

	send(t, student, msgSubmit, map[string]any{"testCode": testCode, "answers": map[string]any{"0": "A"}})
	if msg := errorMessage(expect(t, student, msgError, nil)); msg != "submission rejected" {
		t.Fatalf("expected generic rejection, got %q", msg)
	}

	send(t, admin, msgStop, map[string]string{"testCode": testCode})
	expect(t, student, string(domain.EventEnded), nil)

	if results.Len() != 1 {
		t.Fatalf("expected one stored result, got %d", results.Len())
	}

	resp, err := http.Get(srv.URL + "/api/results/" + testCode)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Results []domain.ScoringRecord `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].StudentName != "Alice" || body.Results[0].TimeTaken != "01:00" {
		t.Fatalf("unexpected results: %+v", body.Results)
	}
}

func TestStudentCannotStart(t *testing.T) {
	srv, _ := newTestServer(t)
	student := dial(t, srv)
	send(t, student, msgJoin, join("Alice"))
	expect(t, student, msgStatusSnapshot, nil)

	send(t, student, msgStart, map[string]string{"testCode": testCode})
	if msg := errorMessage(expect(t, student, msgError, nil)); msg != "only the test administrator can do that" {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	srv, _ := newTestServer(t)
	student := dial(t, srv)
	req := join("Alice")
	req["testCode"] = "000000"
	send(t, student, msgJoin, req)
	if msg := errorMessage(expect(t, student, msgError, nil)); msg != "invalid test code" {
		t.Fatalf("unexpected error %q", msg)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/000000")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestSecondJoinOnSameConnectionRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	student := dial(t, srv)
	send(t, student, msgJoin, join("Alice"))
	expect(t, student, msgStatusSnapshot, nil)

	send(t, student, msgObserverJoin, map[string]string{"testCode": testCode})
	if msg := errorMessage(expect(t, student, msgError, nil)); msg != "connection already joined a session" {
		t.Fatalf("unexpected error %q", msg)
	}
}

func TestDisconnectUpdatesRoster(t *testing.T) {
	srv, _ := newTestServer(t)
	admin := dial(t, srv)
	send(t, admin, msgObserverJoin, map[string]string{"testCode": testCode})
	expect(t, admin, msgStatusSnapshot, nil)

	alice := dial(t, srv)
	send(t, alice, msgJoin, join("Alice"))
	bob := dial(t, srv)
	send(t, bob, msgJoin, join("Bob"))
	expect(t, admin, string(domain.EventRosterUpdate), rosterCount(2))

	_ = bob.Close()
	raw := expect(t, admin, string(domain.EventRosterUpdate), rosterCount(1))
	var roster domain.RosterUpdate
	_ = json.Unmarshal(raw, &roster)
	if roster.Participants[0].Name != "Alice" {
		t.Fatalf("expected Alice to remain, got %+v", roster)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/" + testCode)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	defer resp.Body.Close()
	var view sessionView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if view.State != domain.StateWaiting || view.Roster.Count != 1 {
		t.Fatalf("unexpected session view: %+v", view)
	}
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	send(t, conn, msgPing, nil)
	expect(t, conn, msgPong, nil)

	send(t, conn, "dance", nil)
	if msg := errorMessage(expect(t, conn, msgError, nil)); msg != "unsupported message type" {
		t.Fatalf("unexpected error %q", msg)
	}
}

// joinAndAwaitStart joins as a student and keeps reading until started arrives.
func joinAndAwaitStart(url, name string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", name, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": msgJoin, "payload": join(name)}); err != nil {
		return fmt.Errorf("%s: join: %w", name, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(20 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		switch msg.Type {
		case string(domain.EventStarted):
			return nil
		case msgError:
			return fmt.Errorf("%s: %s", name, errorMessage(msg.Payload))
		}
	}
}

func TestLobbyBurstKeepsEveryConnection(t *testing.T) {
	const students = 150
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	admin := dial(t, srv)
	send(t, admin, msgObserverJoin, map[string]string{"testCode": testCode})
	expect(t, admin, msgStatusSnapshot, nil)

	errs := make(chan error, students)
	for i := 0; i < students; i++ {
		name := fmt.Sprintf("S%03d", i)
		go func() { errs <- joinAndAwaitStart(url, name) }()
	}

	expectWithin(t, admin, string(domain.EventRosterUpdate), rosterCount(students), 20*time.Second)
	send(t, admin, msgStart, map[string]string{"testCode": testCode})
	expect(t, admin, string(domain.EventStarted), nil)

	for i := 0; i < students; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("student did not receive started: %v", err)
		}
	}

	send(t, admin, msgPing, nil)
	expectWithin(t, admin, msgPong, nil, 5*time.Second)
}
