package domain

import "errors"

var (
	// ErrUnknownTestCode is returned when the answer-key provider cannot resolve a code.
	ErrUnknownTestCode = errors.New("invalid test code")
	// ErrSessionNotFound is returned when no live session exists for a code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownParticipant is returned when a connection acts before joining.
	ErrUnknownParticipant = errors.New("participant not found in session")
	// ErrAlreadySubmitted rejects a second submission for the same connection.
	ErrAlreadySubmitted = errors.New("participant already submitted")
	// ErrSubmissionInProgress rejects a submission racing an unfinished one.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrSessionNotStarted rejects submissions while the lobby is still waiting.
	ErrSessionNotStarted = errors.New("session has not started")
	// ErrScoringFailure means the answer key or result sink was unavailable.
	ErrScoringFailure = errors.New("submission could not be scored or saved")
	// ErrNotObserver rejects administrator commands from non-observer connections.
	ErrNotObserver = errors.New("connection is not an observer of this session")
	// ErrInvalidJoin wraps validation failures of join payloads.
	ErrInvalidJoin = errors.New("invalid join request")
)
