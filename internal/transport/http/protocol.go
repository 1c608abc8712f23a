package http

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"assessx-live/internal/domain"
)

// Inbound message types.
const (
	msgJoin         = "join"
	msgObserverJoin = "observerJoin"
	msgStart        = "start"
	msgStop         = "stop"
	msgSubmit       = "submit"
	msgViolation    = "violation"
	msgPing         = "ping"
)

// Outbound unicast message types. Broadcast types come from domain.EventType.
const (
	msgStatusSnapshot = "statusSnapshot"
	msgScoreResult    = "scoreResult"
	msgError          = "error"
	msgPong           = "pong"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type codePayload struct {
	TestCode string `json:"testCode"`
}

type submitPayload struct {
	TestCode       string          `json:"testCode"`
	Answers        json.RawMessage `json:"answers"`
	TimeTaken      json.RawMessage `json:"timeTaken"`
	ViolationCount int             `json:"violationCount"`
}

func (p submitPayload) submission() domain.Submission {
	return domain.Submission{
		Answers:        normalizeAnswers(p.Answers),
		TimeTaken:      normalizeTimeTaken(p.TimeTaken),
		ViolationCount: max(p.ViolationCount, 0),
	}
}

// normalizeAnswers accepts an object keyed by decimal question index or an
// array in question order. Entries that cannot be understood are dropped and
// score as unanswered.
func normalizeAnswers(raw json.RawMessage) domain.Answers {
	out := domain.Answers{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return out
	}

	switch raw[0] {
	case '{':
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return out
		}
		for key, value := range byKey {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil || idx < 0 {
				continue
			}
			if answer, ok := normalizeAnswer(value); ok {
				out[idx] = answer
			}
		}
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return out
		}
		for idx, value := range list {
			if answer, ok := normalizeAnswer(value); ok {
				out[idx] = answer
			}
		}
	}
	return out
}

func normalizeAnswer(raw json.RawMessage) (domain.Answer, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.Answer{}, false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return domain.Answer{}, false
		}
		// A bare string is an option id for objective questions and the
		// answer text for subjective ones.
		return domain.Answer{OptionIDs: []string{s}, Text: s}, true
	case '[':
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return domain.Answer{}, false
		}
		ids = compact(ids)
		if len(ids) == 0 {
			return domain.Answer{}, false
		}
		return domain.Answer{OptionIDs: ids}, true
	case '{':
		var obj domain.Answer
		if err := json.Unmarshal(raw, &obj); err != nil {
			return domain.Answer{}, false
		}
		obj.OptionIDs = compact(obj.OptionIDs)
		if len(obj.OptionIDs) == 0 && obj.Text == "" && obj.FileURL == "" {
			return domain.Answer{}, false
		}
		return obj, true
	}
	return domain.Answer{}, false
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// normalizeTimeTaken keeps the client's elapsed time as display text whether
// it was sent as a string or a number of seconds.
func normalizeTimeTaken(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
