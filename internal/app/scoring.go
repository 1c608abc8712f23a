package app

import "assessx-live/internal/domain"

// NegativeMarkFraction is the share of a question's marks deducted for a wrong
// objective answer when the test enables negative marking.
const NegativeMarkFraction = 0.25

// ScoreSubmission compares answers against the answer key. It never fails:
// missing, malformed and out-of-range entries count as unanswered.
func ScoreSubmission(test domain.TestDefinition, answers domain.Answers) domain.ScoreBreakdown {
	out := domain.ScoreBreakdown{
		TotalQuestions: len(test.Questions),
		Details:        make([]domain.AnswerDetail, 0, len(test.Questions)),
	}

	for i, q := range test.Questions {
		marks := q.MarkValue()
		out.TotalMarks += marks

		answer, answered := answers[i]
		detail := domain.AnswerDetail{QuestionIndex: i, Type: q.Type}

		if q.Type == domain.QuestionSubjective {
			if answered {
				detail.Text = answer.Text
				detail.FileURL = answer.FileURL
			}
			out.Details = append(out.Details, detail)
			continue
		}

		var selected []string
		var correct bool
		if q.Type == domain.QuestionMultiple {
			selected, correct = scoreMultiple(q, answer)
		} else {
			selected, correct = scoreSingle(q, answer)
		}
		detail.OptionIDs = selected
		detail.IsCorrect = &correct

		switch {
		case correct:
			detail.MarksAwarded = marks
			out.CorrectAnswers++
		case len(selected) > 0 && test.Settings.NegativeMarking:
			detail.MarksAwarded = -marks * NegativeMarkFraction
		}
		out.Score += detail.MarksAwarded
		out.Details = append(out.Details, detail)
	}
	return out
}

// scoreSingle returns the selected option (empty when unanswered or malformed)
// and whether it is the option flagged correct.
func scoreSingle(q domain.Question, answer domain.Answer) ([]string, bool) {
	if len(answer.OptionIDs) != 1 || !hasOption(q, answer.OptionIDs[0]) {
		return nil, false
	}
	chosen := answer.OptionIDs[0]
	for _, opt := range q.Options {
		if opt.Correct {
			return []string{chosen}, opt.ID == chosen
		}
	}
	return []string{chosen}, false
}

// scoreMultiple requires the submitted set to equal the correct set exactly.
func scoreMultiple(q domain.Question, answer domain.Answer) ([]string, bool) {
	seen := make(map[string]struct{}, len(answer.OptionIDs))
	selected := make([]string, 0, len(answer.OptionIDs))
	for _, id := range answer.OptionIDs {
		if !hasOption(q, id) {
			return nil, false
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return nil, false
	}

	want := 0
	for _, opt := range q.Options {
		if !opt.Correct {
			continue
		}
		want++
		if _, ok := seen[opt.ID]; !ok {
			return selected, false
		}
	}
	return selected, want == len(selected)
}

func hasOption(q domain.Question, id string) bool {
	if id == "" {
		return false
	}
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
