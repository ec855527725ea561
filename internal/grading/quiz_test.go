package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuiz_NormalizesKindsAtIngestion(t *testing.T) {
	raw := []byte(`{
		"_id": "quiz-1",
		"name": "Geography",
		"passingMarks": "60",
		"questions": [
			{"_id": "q1", "name": "Capital of France?", "type": "Multiple Choice",
			 "options": {"A": "London", "B": "Paris"}, "correctOption": "B"},
			{"_id": "q2", "name": "Largest ocean?", "type": "fill-in",
			 "correctAnswer": "Pacific"},
			{"_id": "q3", "name": "Label the diagram", "type": "Diagram",
			 "correctAnswer": "Nile"},
			{"_id": "q4", "name": "???", "type": "essay",
			 "correctAnswer": "anything"}
		]
	}`)

	quiz, err := ParseQuiz(raw)
	require.NoError(t, err)

	assert.Equal(t, "quiz-1", quiz.ID)
	assert.Equal(t, "Geography", quiz.Title)
	assert.Equal(t, 60, quiz.PassingMarks)
	require.Len(t, quiz.Questions, 4)
	assert.Equal(t, KindChoice, quiz.Questions[0].Kind)
	assert.Equal(t, "B", quiz.Questions[0].CorrectAnswer)
	assert.Equal(t, KindFreeText, quiz.Questions[1].Kind)
	assert.Equal(t, KindVisual, quiz.Questions[2].Kind)
	assert.Equal(t, KindUnknown, quiz.Questions[3].Kind)
}

func TestParseQuiz_NumericPassingMarks(t *testing.T) {
	quiz, err := ParseQuiz([]byte(`{"_id": "q", "passingMarks": 75, "questions": []}`))
	require.NoError(t, err)
	assert.Equal(t, 75, quiz.PassingMarks)
}

func TestParseQuiz_RejectsMissingID(t *testing.T) {
	_, err := ParseQuiz([]byte(`{"name": "no id"}`))
	assert.Error(t, err)
}

func TestParseQuiz_RejectsMalformedJSON(t *testing.T) {
	_, err := ParseQuiz([]byte(`{"_id": `))
	assert.Error(t, err)
}
