package memory

import (
	"context"
	"sort"
	"sync"

	"assessx-live/internal/domain"
)

// ResultStore keeps scoring records in memory. It implements app.ResultSink
// and app.ResultReader and refuses a second record for the same participant.
type ResultStore struct {
	mu      sync.RWMutex
	records map[resultKey]domain.ScoringRecord
	byCode  map[string][]resultKey
}

type resultKey struct {
	sessionID    string
	connectionID string
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		records: make(map[resultKey]domain.ScoringRecord),
		byCode:  make(map[string][]resultKey),
	}
}

func (s *ResultStore) Record(_ context.Context, record domain.ScoringRecord) error {
	key := resultKey{sessionID: record.SessionID, connectionID: record.ConnectionID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return domain.ErrAlreadySubmitted
	}
	s.records[key] = record
	s.byCode[record.TestCode] = append(s.byCode[record.TestCode], key)
	return nil
}

// List returns records for a code, highest score first, earliest submission on ties.
func (s *ResultStore) List(_ context.Context, testCode string) ([]domain.ScoringRecord, error) {
	s.mu.RLock()
	keys := s.byCode[testCode]
	out := make([]domain.ScoringRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.records[key])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// Len reports the number of stored records.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
