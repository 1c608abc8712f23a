package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assessx-live/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// TestLoader loads test definitions stored as JSONB from Postgres.
type TestLoader struct {
	pool *pgxpool.Pool
}

func NewTestLoader(pool *pgxpool.Pool) *TestLoader {
	return &TestLoader{pool: pool}
}

func (l *TestLoader) LoadTest(ctx context.Context, testCode string) (domain.TestDefinition, error) {
	var (
		id  string
		raw []byte
	)
	err := l.pool.QueryRow(ctx, `SELECT id, data FROM tests WHERE test_code=$1`, testCode).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TestDefinition{}, domain.ErrUnknownTestCode
	}
	if err != nil {
		return domain.TestDefinition{}, fmt.Errorf("load test: %w", err)
	}
	var test domain.TestDefinition
	if err := json.Unmarshal(raw, &test); err != nil {
		return domain.TestDefinition{}, fmt.Errorf("unmarshal test: %w", err)
	}
	test.ID = id
	test.Code = testCode
	return test, nil
}

// SaveTests upserts definitions keyed by test code in one transaction.
func (l *TestLoader) SaveTests(ctx context.Context, tests []domain.TestDefinition) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, test := range tests {
		raw, err := json.Marshal(test)
		if err != nil {
			return fmt.Errorf("marshal test %s: %w", test.Code, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO tests (id, test_code, title, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (test_code) DO UPDATE
			SET id = EXCLUDED.id, title = EXCLUDED.title, data = EXCLUDED.data, updated_at = now()`,
			test.ID, test.Code, test.Title, raw)
		if err != nil {
			return fmt.Errorf("save test %s: %w", test.Code, err)
		}
	}
	return tx.Commit(ctx)
}
