package postgres

import (
	"context"
	"fmt"
	"time"

	"assessx-live/internal/domain"
	"github.com/uptrace/bun"
)

type resultRow struct {
	bun.BaseModel `bun:"table:results"`

	ID             int64                 `bun:"id,pk,autoincrement"`
	SessionID      string                `bun:"session_id,notnull"`
	TestID         string                `bun:"test_id"`
	TestCode       string                `bun:"test_code,notnull"`
	ConnectionID   string                `bun:"connection_id,notnull"`
	StudentName    string                `bun:"student_name"`
	RollNumber     string                `bun:"roll_number"`
	MobileNumber   string                `bun:"mobile_number"`
	Score          float64               `bun:"score"`
	TotalMarks     float64               `bun:"total_marks"`
	TotalQuestions int                   `bun:"total_questions"`
	CorrectAnswers int                   `bun:"correct_answers"`
	TimeTaken      string                `bun:"time_taken"`
	ViolationCount int                   `bun:"violation_count"`
	Answers        []domain.AnswerDetail `bun:"answers,type:jsonb"`
	SubmittedAt    time.Time             `bun:"submitted_at,notnull"`
}

// ResultStore persists scoring records. (session_id, connection_id) is unique
// so redelivered records are ignored.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) Record(ctx context.Context, record domain.ScoringRecord) error {
	row := toRow(record)
	res, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (session_id, connection_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAlreadySubmitted
	}
	return nil
}

// RecordBatch inserts records in one statement and returns how many were new.
func (s *ResultStore) RecordBatch(ctx context.Context, records []domain.ScoringRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]resultRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}
	res, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (session_id, connection_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (s *ResultStore) List(ctx context.Context, testCode string) ([]domain.ScoringRecord, error) {
	var rows []resultRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("test_code = ?", testCode).
		Order("score DESC", "submitted_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]domain.ScoringRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func toRow(r domain.ScoringRecord) resultRow {
	answers := r.Answers
	if answers == nil {
		answers = []domain.AnswerDetail{}
	}
	return resultRow{
		SessionID:      r.SessionID,
		TestID:         r.TestID,
		TestCode:       r.TestCode,
		ConnectionID:   r.ConnectionID,
		StudentName:    r.StudentName,
		RollNumber:     r.RollNumber,
		MobileNumber:   r.MobileNumber,
		Score:          r.Score,
		TotalMarks:     r.TotalMarks,
		TotalQuestions: r.TotalQuestions,
		CorrectAnswers: r.CorrectAnswers,
		TimeTaken:      r.TimeTaken,
		ViolationCount: r.ViolationCount,
		Answers:        answers,
		SubmittedAt:    r.SubmittedAt,
	}
}

func fromRow(row resultRow) domain.ScoringRecord {
	return domain.ScoringRecord{
		SessionID:      row.SessionID,
		TestID:         row.TestID,
		TestCode:       row.TestCode,
		ConnectionID:   row.ConnectionID,
		StudentName:    row.StudentName,
		RollNumber:     row.RollNumber,
		MobileNumber:   row.MobileNumber,
		Score:          row.Score,
		TotalMarks:     row.TotalMarks,
		TotalQuestions: row.TotalQuestions,
		CorrectAnswers: row.CorrectAnswers,
		TimeTaken:      row.TimeTaken,
		ViolationCount: row.ViolationCount,
		Answers:        row.Answers,
		SubmittedAt:    row.SubmittedAt,
	}
}
