package grading

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/darasa-app/darasa/internal/store"
	"github.com/darasa-app/darasa/internal/store/migrations"
)

func setupResults(t *testing.T) *SQLiteResults {
	t.Helper()
	conn := store.NewConn(filepath.Join(t.TempDir(), "assessments.db"), migrations.Assessments(), nil)
	t.Cleanup(func() { _ = conn.Reset() })
	return NewSQLiteResults(conn)
}

func sampleResult(quizID string) *Result {
	return &Result{
		QuizID: quizID,
		UserID: "u1",
		Outcomes: []Outcome{
			{QuestionID: "q1", Submitted: "Paris", CorrectAnswer: "Paris", Correct: true},
		},
		CorrectCount:   1,
		TotalQuestions: 1,
		Percentage:     100,
		Verdict:        VerdictPass,
		ElapsedSeconds: 42,
		GradedAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func TestResults_InsertAssignsSequentialIDs(t *testing.T) {
	r := setupResults(t)
	ctx := context.Background()

	a := sampleResult("quiz-1")
	b := sampleResult("quiz-1")
	require.NoError(t, r.Insert(ctx, a))
	require.NoError(t, r.Insert(ctx, b))

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestResults_ListUnsyncedAndMarkSynced(t *testing.T) {
	r := setupResults(t)
	ctx := context.Background()

	res := sampleResult("quiz-1")
	require.NoError(t, r.Insert(ctx, res))

	unsynced, err := r.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, res.ID, unsynced[0].ID)
	assert.Equal(t, res.Outcomes, unsynced[0].Outcomes)

	require.NoError(t, r.MarkSynced(ctx, res.ID))

	unsynced, err = r.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	// Marking again is a no-op, and the record is kept as history.
	require.NoError(t, r.MarkSynced(ctx, res.ID))
	history, err := r.ListByQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Synced)
}

func TestResults_SurviveQuizSnapshotClearing(t *testing.T) {
	conn := store.NewConn(filepath.Join(t.TempDir(), "assessments.db"), migrations.Assessments(), nil)
	t.Cleanup(func() { _ = conn.Reset() })
	ctx := context.Background()

	s := store.New(conn, nil)
	part, err := s.Open(ctx, "quizzes", 1, nil)
	require.NoError(t, err)
	defer part.Close()

	snaps := NewSnapshots(part)
	_, err = snaps.Ingest(ctx, []byte(`{"_id": "quiz-1", "name": "Geo", "questions": []}`))
	require.NoError(t, err)

	r := NewSQLiteResults(conn)
	require.NoError(t, r.Insert(ctx, sampleResult("quiz-1")))

	require.NoError(t, part.Clear(ctx))

	history, err := r.ListByQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Len(t, history, 1, "clearing downloaded quizzes must not destroy results")
}

func TestResults_MemoryFallbackWhenDegraded(t *testing.T) {
	conn := store.NewConn(filepath.Join(t.TempDir(), "missing", "x.db"), migrations.Assessments(), nil)
	r := NewSQLiteResults(conn)
	ctx := context.Background()

	res := sampleResult("quiz-1")
	require.NoError(t, r.Insert(ctx, res))
	assert.Equal(t, int64(1), res.ID)

	unsynced, err := r.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)

	require.NoError(t, r.MarkSynced(ctx, res.ID))
	unsynced, err = r.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestResults_DegradesOnInsertFailureMidSession(t *testing.T) {
	r := setupResults(t)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, sampleResult("quiz-1")))
	require.False(t, r.conn.Degraded())

	db, err := r.conn.DB(ctx)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DROP TABLE results`)
	require.NoError(t, err)

	// Grading must still queue the result when the write fails.
	res := sampleResult("quiz-2")
	require.NoError(t, r.Insert(ctx, res))
	require.True(t, r.conn.Degraded())
	assert.NotZero(t, res.ID)

	unsynced, err := r.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "quiz-2", unsynced[0].QuizID)

	require.NoError(t, r.MarkSynced(ctx, res.ID))
	unsynced, err = r.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}
