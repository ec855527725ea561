package grading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/logging"
)

// Verdict values mirror the platform's grading endpoint.
const (
	VerdictPass = "Pass"
	VerdictFail = "Fail"
)

// Outcome is the per-question breakdown entry. Its shape matches the
// platform's grading output so the results UI needs no special-casing
// for offline-origin results.
type Outcome struct {
	QuestionID    string `json:"questionId"`
	Submitted     string `json:"submittedAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
	Correct       bool   `json:"correct"`
	Ungradable    bool   `json:"ungradable,omitempty"`
}

// Result is a graded attempt. Synced starts false and flips to true
// exactly once, when the reconciler gets a server acknowledgment.
type Result struct {
	ID             int64     `json:"id"`
	QuizID         string    `json:"quizId"`
	UserID         string    `json:"userId"`
	Outcomes       []Outcome `json:"outcomes"`
	CorrectCount   int       `json:"correctCount"`
	TotalQuestions int       `json:"totalQuestions"`
	Percentage     int       `json:"percentage"`
	Verdict        string    `json:"verdict"`
	ElapsedSeconds int64     `json:"elapsedSeconds"`
	GradedAt       time.Time `json:"gradedAt"`
	Synced         bool      `json:"synced"`
}

// Submission is one user's set of answers for a quiz attempt.
type Submission struct {
	UserID    string
	StartedAt time.Time
	// Answers maps question id to the submitted answer. A question with
	// no entry is scored incorrect, never skipped.
	Answers map[string]string
}

// Engine grades quiz snapshots offline and queues the results.
type Engine struct {
	results Results
	log     logging.Logger
	now     func() time.Time
}

// NewEngine builds an Engine persisting into the given results repository.
func NewEngine(results Results, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Engine{results: results, log: log, now: time.Now}
}

// Grade scores the submission against the quiz snapshot, persists the
// result with Synced=false and returns it. Grading never fails on a
// malformed question: anything unresolvable is scored incorrect with a
// diagnostic, because a partial offline grade is more useful to the
// learner than a hard failure mid-assessment.
func (e *Engine) Grade(ctx context.Context, quiz *Quiz, sub Submission) (*Result, error) {
	now := e.now().UTC()

	res := &Result{
		QuizID:         quiz.ID,
		UserID:         sub.UserID,
		Outcomes:       make([]Outcome, 0, len(quiz.Questions)),
		TotalQuestions: len(quiz.Questions),
		GradedAt:       now,
	}
	if !sub.StartedAt.IsZero() {
		res.ElapsedSeconds = int64(now.Sub(sub.StartedAt).Seconds())
	}

	for _, q := range quiz.Questions {
		outcome := e.gradeQuestion(ctx, q, sub.Answers[q.ID])
		if outcome.Correct {
			res.CorrectCount++
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}

	res.Percentage = percentage(res.CorrectCount, res.TotalQuestions)
	threshold := quiz.PassingMarks
	if threshold <= 0 {
		threshold = common.DefaultPassingThreshold
	}
	if res.Percentage >= threshold {
		res.Verdict = VerdictPass
	} else {
		res.Verdict = VerdictFail
	}

	if e.results != nil {
		if err := e.results.Insert(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to persist result: %w", err)
		}
	}
	return res, nil
}

func (e *Engine) gradeQuestion(ctx context.Context, q Question, submitted string) Outcome {
	outcome := Outcome{QuestionID: q.ID, Submitted: submitted}

	switch q.Kind {
	case KindChoice:
		resolved, viaKey := resolveChoice(q)
		if resolved == "" {
			return e.ungradable(ctx, q, outcome)
		}
		outcome.CorrectAnswer = resolved
		// The submission may carry either the option key or the literal
		// option text; both grade correct.
		outcome.Correct = submitted == resolved || (viaKey && submitted == q.CorrectAnswer)

	case KindFreeText:
		if q.CorrectAnswer == "" {
			return e.ungradable(ctx, q, outcome)
		}
		outcome.CorrectAnswer = q.CorrectAnswer
		outcome.Correct = strings.EqualFold(
			strings.TrimSpace(submitted), strings.TrimSpace(q.CorrectAnswer))

	case KindVisual:
		if q.CorrectAnswer == "" {
			return e.ungradable(ctx, q, outcome)
		}
		outcome.CorrectAnswer = q.CorrectAnswer
		outcome.Correct = strings.TrimSpace(submitted) == strings.TrimSpace(q.CorrectAnswer)

	default:
		return e.ungradable(ctx, q, outcome)
	}

	return outcome
}

// resolveChoice resolves the stored correct answer to literal option
// text. viaKey reports whether the stored value was an options key.
func resolveChoice(q Question) (resolved string, viaKey bool) {
	if text, ok := q.Options[q.CorrectAnswer]; ok && text != "" {
		return text, true
	}
	return q.CorrectAnswer, false
}

func (e *Engine) ungradable(ctx context.Context, q Question, outcome Outcome) Outcome {
	e.log.Warn(ctx, "question has no resolvable correct answer, scoring incorrect",
		"question", q.ID, "kind", q.Kind.String())
	outcome.Ungradable = true
	outcome.Correct = false
	return outcome
}

// percentage is round(correct/total*100), defined as 0 for an empty quiz.
func percentage(correct, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}
