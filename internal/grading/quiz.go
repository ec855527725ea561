// Package grading implements the offline assessment engine: it grades a
// locally stored quiz snapshot against submitted answers and produces a
// result record with the same shape the platform's grading endpoint
// returns, queued for later reconciliation.
package grading

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionKind is the closed set of grading policies. Loosely-typed
// question type strings are normalized into a kind once, at ingestion,
// never at grading time.
type QuestionKind int

const (
	// KindUnknown marks a question whose declared type could not be
	// resolved; it grades as incorrect with a diagnostic.
	KindUnknown QuestionKind = iota
	KindChoice
	KindFreeText
	KindVisual
)

func (k QuestionKind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindFreeText:
		return "free-text"
	case KindVisual:
		return "visual"
	default:
		return "unknown"
	}
}

// Question is a normalized quiz question. For choice questions,
// CorrectAnswer may be either a key into Options or the literal option
// text; resolution to literal text happens during grading.
type Question struct {
	ID            string            `json:"id"`
	Kind          QuestionKind      `json:"kind"`
	Prompt        string            `json:"prompt"`
	Options       map[string]string `json:"options,omitempty"`
	CorrectAnswer string            `json:"correctAnswer"`
}

// Quiz is a normalized, locally stored quiz snapshot.
type Quiz struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	PassingMarks int        `json:"passingMarks"` // percent; 0 means not set
	DownloadedAt time.Time  `json:"downloadedAt"`
	Questions    []Question `json:"questions"`
}

// rawQuiz mirrors the platform API payload before normalization.
type rawQuiz struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	PassingMarks any    `json:"passingMarks"`
	Questions    []struct {
		ID            string            `json:"_id"`
		Name          string            `json:"name"`
		Type          string            `json:"type"`
		Options       map[string]string `json:"options"`
		CorrectAnswer string            `json:"correctAnswer"`
		CorrectOption string            `json:"correctOption"`
	} `json:"questions"`
}

// ParseQuiz normalizes a raw platform quiz payload into a Quiz. This is
// the single place where loosely-typed question type strings become a
// QuestionKind.
func ParseQuiz(data []byte) (*Quiz, error) {
	var raw rawQuiz
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse quiz payload: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("quiz payload has no id")
	}

	quiz := &Quiz{
		ID:           raw.ID,
		Title:        raw.Name,
		PassingMarks: parseMarks(raw.PassingMarks),
		Questions:    make([]Question, 0, len(raw.Questions)),
	}

	for _, q := range raw.Questions {
		correct := q.CorrectAnswer
		if correct == "" {
			correct = q.CorrectOption
		}
		quiz.Questions = append(quiz.Questions, Question{
			ID:            q.ID,
			Kind:          normalizeKind(q.Type),
			Prompt:        q.Name,
			Options:       q.Options,
			CorrectAnswer: correct,
		})
	}
	return quiz, nil
}

// parseMarks tolerates passing marks sent as a number or a string.
func parseMarks(v any) int {
	switch m := v.(type) {
	case float64:
		return int(m)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(m), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

// normalizeKind maps the platform's question type synonyms onto the
// closed kind set.
func normalizeKind(t string) QuestionKind {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "choice", "options", "option", "mcq", "multiple-choice", "multiple choice", "single-choice":
		return KindChoice
	case "text", "free-text", "free text", "fill", "fill-in", "short-answer", "input":
		return KindFreeText
	case "visual", "diagram", "image", "drawing", "label":
		return KindVisual
	default:
		return KindUnknown
	}
}
