package domain

import "time"

// QuestionType selects how a question is scored.
type QuestionType string

const (
	QuestionSingle     QuestionType = "single"
	QuestionMultiple   QuestionType = "multiple"
	QuestionSubjective QuestionType = "subjective"
)

// Option is one selectable answer. Correct is never sent to students.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question is one entry of a test's answer key.
type Question struct {
	Type            QuestionType `json:"type" yaml:"type"`
	Text            string       `json:"text" yaml:"text"`
	Options         []Option     `json:"options" yaml:"options"`
	Marks           int          `json:"marks" yaml:"marks"` // defaults to 1 if zero
	AllowFileUpload bool         `json:"allowFileUpload" yaml:"allowFileUpload"`
}

// MarkValue returns the marks a fully correct answer earns.
func (q Question) MarkValue() float64 {
	if q.Marks <= 0 {
		return 1
	}
	return float64(q.Marks)
}

// Settings are per-test scoring switches.
type Settings struct {
	NegativeMarking  bool `json:"negativeMarking" yaml:"negativeMarking"`
	ShuffleQuestions bool `json:"shuffleQuestions" yaml:"shuffleQuestions"`
}

// TestDefinition is the authoritative test document resolved by test code.
type TestDefinition struct {
	ID        string     `json:"id" yaml:"id"`
	Code      string     `json:"testCode" yaml:"testCode"`
	Title     string     `json:"title" yaml:"title"`
	Duration  int        `json:"duration" yaml:"duration"` // minutes
	Settings  Settings   `json:"settings" yaml:"settings"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	StateWaiting  SessionState = "waiting"
	StateRunning  SessionState = "running"
	StateFinished SessionState = "finished"
)

// SubmissionStatus tracks a participant's submission.
type SubmissionStatus string

const (
	NotSubmitted SubmissionStatus = "not_submitted"
	Submitting   SubmissionStatus = "submitting"
	Submitted    SubmissionStatus = "submitted"
)

// JoinRequest carries the student-supplied identity fields.
type JoinRequest struct {
	TestCode     string `json:"testCode" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=120"`
	RollNumber   string `json:"rollNumber" validate:"required,max=64"`
	MobileNumber string `json:"mobileNumber" validate:"required,max=32"`
}

// Participant is a roster entry bound to one live connection.
type Participant struct {
	ConnectionID string
	Name         string
	RollNumber   string
	MobileNumber string
	Status       SubmissionStatus
	Violations   int
	JoinedAt     time.Time
}

// RosterEntry is the broadcast view of a participant.
type RosterEntry struct {
	Name       string `json:"name"`
	RollNumber string `json:"rollNumber"`
	Violations int    `json:"violations"`
}

// RosterUpdate is always a full snapshot, never a delta.
type RosterUpdate struct {
	Count        int           `json:"count"`
	Submitted    int           `json:"submitted"`
	Participants []RosterEntry `json:"participants"`
}

// Started is broadcast once when a session enters running.
type Started struct {
	StartTime int64 `json:"startTime"` // unix millis
	Duration  int   `json:"duration"`  // minutes
}

// Ended is broadcast once when a session finishes.
type Ended struct{}

// StatusSnapshot tells a single connection where the session stands.
type StatusSnapshot struct {
	State     SessionState `json:"state"`
	StartTime int64        `json:"startTime,omitempty"`
	Duration  int          `json:"duration"`
}

// EventType names an event published on a session topic.
type EventType string

const (
	EventRosterUpdate EventType = "rosterUpdate"
	EventStarted      EventType = "started"
	EventEnded        EventType = "ended"
)

// Event is one message on a session topic.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Answer is a normalized submitted answer for one question.
type Answer struct {
	OptionIDs []string `json:"optionIds,omitempty"`
	Text      string   `json:"text,omitempty"`
	FileURL   string   `json:"fileUrl,omitempty"`
}

// Answers maps question index to the submitted answer.
type Answers map[int]Answer

// Submission is what a student hands in.
type Submission struct {
	Answers        Answers
	TimeTaken      string
	ViolationCount int
}

// AnswerDetail is the per-question outcome kept in a scoring record.
type AnswerDetail struct {
	QuestionIndex int          `json:"questionIndex"`
	Type          QuestionType `json:"type"`
	OptionIDs     []string     `json:"optionIds,omitempty"`
	Text          string       `json:"text,omitempty"`
	FileURL       string       `json:"fileUrl,omitempty"`
	IsCorrect     *bool        `json:"isCorrect"`
	MarksAwarded  float64      `json:"marksAwarded"`
}

// ScoreBreakdown is the scoring engine output.
type ScoreBreakdown struct {
	Score          float64        `json:"score"`
	TotalMarks     float64        `json:"totalMarks"`
	TotalQuestions int            `json:"totalQuestions"`
	CorrectAnswers int            `json:"correctAnswers"`
	Details        []AnswerDetail `json:"details"`
}

// ScoringRecord is written once per (session, participant).
type ScoringRecord struct {
	SessionID      string         `json:"sessionId"`
	TestID         string         `json:"testId"`
	TestCode       string         `json:"testCode"`
	ConnectionID   string         `json:"connectionId"`
	StudentName    string         `json:"studentName"`
	RollNumber     string         `json:"rollNumber"`
	MobileNumber   string         `json:"mobileNumber"`
	Score          float64        `json:"score"`
	TotalMarks     float64        `json:"totalMarks"`
	TotalQuestions int            `json:"totalQuestions"`
	CorrectAnswers int            `json:"correctAnswers"`
	TimeTaken      string         `json:"timeTaken"`
	ViolationCount int            `json:"violationCount"`
	Answers        []AnswerDetail `json:"answers"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

// ScoreResult is sent privately to the submitting connection.
type ScoreResult struct {
	Score          float64 `json:"score"`
	Total          float64 `json:"total"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
}
