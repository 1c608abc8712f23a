package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"assessx-live/internal/domain"
	"github.com/google/uuid"
)

// Broker fans events out to every subscriber of a topic.
type Broker interface {
	Publish(topic string, event domain.Event)
	// Subscribe returns a channel of events published after the call. The
	// channel is closed by cancel, by Close, or when the subscriber falls behind.
	Subscribe(topic string) (<-chan domain.Event, func())
	Close(topic string)
}

// errSessionEvicted is returned to a caller that reached a session after the
// registry dropped it. The caller should look the code up again.
var errSessionEvicted = errors.New("session evicted")

// Session is one live assessment. All roster and lifecycle mutations are
// serialized on mu and publish while holding it, so every subscriber sees
// events in mutation order.
type Session struct {
	id       string
	code     string
	testID   string
	duration int
	topic    string
	now      func() time.Time
	broker   Broker

	mu           sync.Mutex
	evicted      bool
	state        domain.SessionState
	startedAt    time.Time
	finishedAt   time.Time
	participants map[string]*member
	observers    map[string]struct{}
}

type member struct {
	domain.Participant
	disconnected bool
}

// NewSession builds a waiting session for a resolved test.
func NewSession(test domain.TestDefinition, broker Broker) *Session {
	return NewSessionWithClock(test, broker, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(test domain.TestDefinition, broker Broker, now func() time.Time) *Session {
	id := uuid.NewString()
	return &Session{
		id:           id,
		code:         test.Code,
		testID:       test.ID,
		duration:     test.Duration,
		topic:        test.Code + ":" + id,
		now:          now,
		broker:       broker,
		state:        domain.StateWaiting,
		participants: make(map[string]*member),
		observers:    make(map[string]struct{}),
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Code() string   { return s.code }
func (s *Session) Topic() string  { return s.topic }
func (s *Session) TestID() string { return s.testID }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the roster and status without publishing.
func (s *Session) Snapshot() (domain.RosterUpdate, domain.StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked(), s.statusLocked()
}

// Join adds or refreshes the roster entry for a connection and broadcasts the
// full roster. The returned status lets a late joiner skip the lobby.
func (s *Session) Join(p domain.Participant) (domain.RosterUpdate, domain.StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return domain.RosterUpdate{}, domain.StatusSnapshot{}, errSessionEvicted
	}
	if existing, ok := s.participants[p.ConnectionID]; ok {
		existing.Name = p.Name
		existing.RollNumber = p.RollNumber
		existing.MobileNumber = p.MobileNumber
		existing.disconnected = false
	} else {
		p.Status = domain.NotSubmitted
		p.JoinedAt = s.now()
		s.participants[p.ConnectionID] = &member{Participant: p}
	}
	return s.publishRosterLocked(), s.statusLocked(), nil
}

// Observe registers an administrator connection. Observers never enter the roster.
func (s *Session) Observe(connID string) (domain.RosterUpdate, domain.StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return domain.RosterUpdate{}, domain.StatusSnapshot{}, errSessionEvicted
	}
	s.observers[connID] = struct{}{}
	return s.rosterLocked(), s.statusLocked(), nil
}

// IsObserver reports whether connID observer-joined this session.
func (s *Session) IsObserver(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observers[connID]
	return ok
}

// Start moves waiting to running once. Later calls return changed=false and
// leave the start time untouched.
func (s *Session) Start() (domain.Started, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateWaiting {
		return s.startedLocked(), false
	}
	s.state = domain.StateRunning
	s.startedAt = s.now()
	started := s.startedLocked()
	s.broker.Publish(s.topic, domain.Event{Type: domain.EventStarted, Payload: started})
	return started, true
}

// Stop finishes the session once and broadcasts ended.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateFinished {
		return false
	}
	s.state = domain.StateFinished
	s.finishedAt = s.now()
	s.broker.Publish(s.topic, domain.Event{Type: domain.EventEnded, Payload: domain.Ended{}})
	return true
}

// Leave drops a connection. Only participants that have not started submitting
// are removed; others stay for audit and the call reports changed=false.
func (s *Session) Leave(connID string) (domain.RosterUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observers, connID)
	m, ok := s.participants[connID]
	if !ok {
		return domain.RosterUpdate{}, false
	}
	if m.Status != domain.NotSubmitted {
		m.disconnected = true
		return domain.RosterUpdate{}, false
	}
	delete(s.participants, connID)
	return s.publishRosterLocked(), true
}

// ReportViolation counts a proctoring violation for a participant.
func (s *Session) ReportViolation(connID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.participants[connID]
	if !ok {
		return 0, domain.ErrUnknownParticipant
	}
	if m.Status == domain.Submitted {
		return m.Violations, domain.ErrAlreadySubmitted
	}
	m.Violations++
	s.publishRosterLocked()
	return m.Violations, nil
}

// beginSubmit reserves the participant so a concurrent or repeated submit is
// rejected while the result is scored and written outside the lock.
func (s *Session) beginSubmit(connID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateWaiting {
		return domain.Participant{}, domain.ErrSessionNotStarted
	}
	m, ok := s.participants[connID]
	if !ok {
		return domain.Participant{}, domain.ErrUnknownParticipant
	}
	switch m.Status {
	case domain.Submitting:
		return domain.Participant{}, domain.ErrSubmissionInProgress
	case domain.Submitted:
		return domain.Participant{}, domain.ErrAlreadySubmitted
	}
	m.Status = domain.Submitting
	return m.Participant, nil
}

func (s *Session) completeSubmit(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.participants[connID]
	if !ok {
		return
	}
	m.Status = domain.Submitted
	s.publishRosterLocked()
}

// abortSubmit releases the reservation so the client may retry. A participant
// whose connection dropped meanwhile is removed as a plain leave would.
func (s *Session) abortSubmit(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.participants[connID]
	if !ok || m.Status != domain.Submitting {
		return
	}
	if m.disconnected {
		delete(s.participants, connID)
		s.publishRosterLocked()
		return
	}
	m.Status = domain.NotSubmitted
}

// Evict marks a finished session as gone once nobody is still pending or the
// grace period since finishing has passed. An evicted session refuses joins.
func (s *Session) Evict(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return true
	}
	if s.state != domain.StateFinished {
		return false
	}
	if now.Sub(s.finishedAt) < grace {
		for _, m := range s.participants {
			if m.Status != domain.Submitted {
				return false
			}
		}
	}
	s.evicted = true
	return true
}

func (s *Session) publishRosterLocked() domain.RosterUpdate {
	roster := s.rosterLocked()
	s.broker.Publish(s.topic, domain.Event{Type: domain.EventRosterUpdate, Payload: roster})
	return roster
}

func (s *Session) rosterLocked() domain.RosterUpdate {
	pending := make([]*member, 0, len(s.participants))
	submitted := 0
	for _, m := range s.participants {
		if m.Status == domain.Submitted {
			submitted++
			continue
		}
		pending = append(pending, m)
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].JoinedAt.Equal(pending[j].JoinedAt) {
			return pending[i].JoinedAt.Before(pending[j].JoinedAt)
		}
		if pending[i].Name != pending[j].Name {
			return pending[i].Name < pending[j].Name
		}
		return pending[i].ConnectionID < pending[j].ConnectionID
	})

	entries := make([]domain.RosterEntry, 0, len(pending))
	for _, m := range pending {
		entries = append(entries, domain.RosterEntry{
			Name:       m.Name,
			RollNumber: m.RollNumber,
			Violations: m.Violations,
		})
	}
	return domain.RosterUpdate{
		Count:        len(entries),
		Submitted:    submitted,
		Participants: entries,
	}
}

func (s *Session) statusLocked() domain.StatusSnapshot {
	status := domain.StatusSnapshot{State: s.state, Duration: s.duration}
	if !s.startedAt.IsZero() {
		status.StartTime = s.startedAt.UnixMilli()
	}
	return status
}

func (s *Session) startedLocked() domain.Started {
	started := domain.Started{Duration: s.duration}
	if !s.startedAt.IsZero() {
		started.StartTime = s.startedAt.UnixMilli()
	}
	return started
}
