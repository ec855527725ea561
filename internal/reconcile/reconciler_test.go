package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/grading"
	"github.com/darasa-app/darasa/internal/store"
	"github.com/darasa-app/darasa/internal/store/migrations"
	"github.com/darasa-app/darasa/internal/vault"
)

// fakePlatform scripts login/upload behavior and counts submissions.
type fakePlatform struct {
	mu          sync.Mutex
	loginErr    error
	submitErr   error
	failUploads int // fail this many uploads before succeeding
	logins      int
	submissions map[int64]int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{submissions: map[int64]int{}}
}

func (f *fakePlatform) Login(ctx context.Context, identity, secret string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return "", f.loginErr
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return tok.SignedString([]byte("test"))
}

func (f *fakePlatform) SubmitResult(ctx context.Context, token string, res *grading.Result) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.failUploads > 0 {
		f.failUploads--
		return "", fmt.Errorf("%w: flaky network", common.ErrFetchFailed)
	}
	f.submissions[res.ID]++
	return fmt.Sprintf("report-%d", res.ID), nil
}

func setupReconciler(t *testing.T, client *fakePlatform) (*Reconciler, *grading.SQLiteResults) {
	t.Helper()
	conn := store.NewConn(filepath.Join(t.TempDir(), "assessments.db"), migrations.Assessments(), nil)
	t.Cleanup(func() { _ = conn.Reset() })
	results := grading.NewSQLiteResults(conn)

	v, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, v.Save("asha", "hunter2"))

	return New(results, client, v, time.Minute, nil), results
}

func queueResult(t *testing.T, results grading.Results, quizID string) *grading.Result {
	t.Helper()
	res := &grading.Result{
		QuizID:         quizID,
		UserID:         "u1",
		Outcomes:       []grading.Outcome{{QuestionID: "q1", Correct: true}},
		CorrectCount:   7,
		TotalQuestions: 10,
		Percentage:     70,
		Verdict:        grading.VerdictPass,
		GradedAt:       time.Now().UTC(),
	}
	require.NoError(t, results.Insert(context.Background(), res))
	return res
}

func TestReconcileOnce_FlipsSyncedExactlyOnce(t *testing.T) {
	client := newFakePlatform()
	r, results := setupReconciler(t, client)
	ctx := context.Background()

	res := queueResult(t, results, "quiz-1")

	require.NoError(t, r.ReconcileOnce(ctx))

	unsynced, err := results.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	history, err := results.ListByQuiz(ctx, "quiz-1")
	require.NoError(t, err)
	require.Len(t, history, 1, "the record must remain as local history")
	assert.True(t, history[0].Synced)

	// A second pass finds nothing and uploads nothing.
	require.NoError(t, r.ReconcileOnce(ctx))
	assert.Equal(t, 1, client.submissions[res.ID], "a result must never be uploaded twice")
}

func TestReconcileOnce_EmptyQueueSkipsLogin(t *testing.T) {
	client := newFakePlatform()
	r, _ := setupReconciler(t, client)

	require.NoError(t, r.ReconcileOnce(context.Background()))
	assert.Equal(t, 0, client.logins)
}

func TestReconcileOnce_RetriesTransientFailures(t *testing.T) {
	client := newFakePlatform()
	client.failUploads = 2
	r, results := setupReconciler(t, client)

	res := queueResult(t, results, "quiz-1")

	require.NoError(t, r.ReconcileOnce(context.Background()))
	assert.Equal(t, 1, client.submissions[res.ID])
}

func TestReconcileOnce_LeavesQueuedOnPersistentFailure(t *testing.T) {
	client := newFakePlatform()
	client.submitErr = fmt.Errorf("%w: server down", common.ErrFetchFailed)
	r, results := setupReconciler(t, client)
	ctx := context.Background()

	queueResult(t, results, "quiz-1")

	require.NoError(t, r.ReconcileOnce(ctx), "per-record failures do not fail the pass")

	unsynced, err := results.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Len(t, unsynced, 1, "the record stays queued for the next pass")

	// Connectivity returns: the next pass drains the queue.
	client.mu.Lock()
	client.submitErr = nil
	client.mu.Unlock()
	require.NoError(t, r.ReconcileOnce(ctx))

	unsynced, err = results.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestReconcileOnce_NoCredentialsFails(t *testing.T) {
	client := newFakePlatform()
	conn := store.NewConn(filepath.Join(t.TempDir(), "assessments.db"), migrations.Assessments(), nil)
	t.Cleanup(func() { _ = conn.Reset() })
	results := grading.NewSQLiteResults(conn)

	v, err := vault.New(t.TempDir()) // empty vault
	require.NoError(t, err)

	r := New(results, client, v, time.Minute, nil)
	queueResult(t, results, "quiz-1")

	err = r.ReconcileOnce(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestReconcileOnce_ReloginsWhenTokenRejected(t *testing.T) {
	client := newFakePlatform()
	r, results := setupReconciler(t, client)
	ctx := context.Background()

	res := queueResult(t, results, "quiz-1")

	// First upload is rejected as unauthorized; the reconciler must
	// re-login and retry the same record.
	client.submitErr = common.ErrUnauthorized
	go func() {
		time.Sleep(50 * time.Millisecond)
		client.mu.Lock()
		client.submitErr = nil
		client.mu.Unlock()
	}()

	// Run passes until the record syncs or we give up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = r.ReconcileOnce(ctx)
		unsynced, err := results.ListUnsynced(ctx)
		require.NoError(t, err)
		if len(unsynced) == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	unsynced, err := results.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
	assert.Equal(t, 1, client.submissions[res.ID])
	assert.GreaterOrEqual(t, client.logins, 2)
}

func TestReconcileOnce_SerializesPasses(t *testing.T) {
	client := newFakePlatform()
	r, results := setupReconciler(t, client)
	ctx := context.Background()

	res := queueResult(t, results, "quiz-1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.ReconcileOnce(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.submissions[res.ID])
}

func TestUpload_UnauthorizedIsNotRetried(t *testing.T) {
	client := newFakePlatform()
	client.submitErr = common.ErrUnauthorized
	r, _ := setupReconciler(t, client)

	err := r.upload(context.Background(), "tok", &grading.Result{ID: 1})
	assert.True(t, errors.Is(err, common.ErrUnauthorized))
}
