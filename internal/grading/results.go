package grading

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/dbx"
	"github.com/darasa-app/darasa/internal/store"
)

// Results stores graded attempts. Results live in their own
// auto-incrementing table, separate from downloaded quiz snapshots, so
// clearing downloads never destroys history.
type Results interface {
	// Insert persists a result and fills in its assigned ID.
	Insert(ctx context.Context, res *Result) error
	// ListUnsynced returns every result still awaiting reconciliation.
	ListUnsynced(ctx context.Context) ([]*Result, error)
	// MarkSynced flips the synced flag. The transition happens exactly
	// once; marking an already-synced result is a no-op.
	MarkSynced(ctx context.Context, id int64) error
	// ListByQuiz returns all local history for one quiz.
	ListByQuiz(ctx context.Context, quizID string) ([]*Result, error)
}

// SQLiteResults is the Results implementation on the assessments
// database. While the database is degraded it falls back to an
// in-memory list so offline grading keeps working.
type SQLiteResults struct {
	conn *store.Conn

	mu     sync.Mutex
	memSeq int64
	mem    []*Result
}

// NewSQLiteResults binds a results repository to the assessments connection.
func NewSQLiteResults(conn *store.Conn) *SQLiteResults {
	return &SQLiteResults{conn: conn}
}

// insertMem queues the result in memory while the database is degraded.
// IDs come from a session-local sequence; they are only meaningful for
// marking sync within the same session.
func (r *SQLiteResults) insertMem(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memSeq++
	res.ID = r.memSeq
	cp := *res
	r.mem = append(r.mem, &cp)
}

func (r *SQLiteResults) Insert(ctx context.Context, res *Result) error {
	db, err := r.conn.DB(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		r.insertMem(res)
		return nil
	}
	if err != nil {
		return err
	}

	breakdown, err := json.Marshal(res.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		out, err := tx.ExecContext(ctx, `
			INSERT INTO results
				(quiz_id, user_id, breakdown, correct_count, total_questions,
				 percentage, verdict, elapsed_seconds, graded_at, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.QuizID, res.UserID, breakdown, res.CorrectCount, res.TotalQuestions,
			res.Percentage, res.Verdict, res.ElapsedSeconds, res.GradedAt.Unix(),
			boolToInt(res.Synced))
		if err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}
		id, err := out.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read result id: %w", err)
		}
		res.ID = id
		return nil
	})
	if err != nil && r.conn.Degrade(ctx, err) {
		r.insertMem(res)
		return nil
	}
	return err
}

// listMem copies the memory queue, filtered by keep.
func (r *SQLiteResults) listMem(keep func(*Result) bool) []*Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Result
	for _, res := range r.mem {
		if keep(res) {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out
}

func (r *SQLiteResults) ListUnsynced(ctx context.Context) ([]*Result, error) {
	db, err := r.conn.DB(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return r.listMem(func(res *Result) bool { return !res.Synced }), nil
	}
	if err != nil {
		return nil, err
	}

	out, err := r.query(ctx, db, `WHERE synced=0 ORDER BY id`)
	if err != nil && r.conn.Degrade(ctx, err) {
		return r.listMem(func(res *Result) bool { return !res.Synced }), nil
	}
	return out, err
}

func (r *SQLiteResults) ListByQuiz(ctx context.Context, quizID string) ([]*Result, error) {
	db, err := r.conn.DB(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		return r.listMem(func(res *Result) bool { return res.QuizID == quizID }), nil
	}
	if err != nil {
		return nil, err
	}

	out, err := r.query(ctx, db, `WHERE quiz_id=? ORDER BY id`, quizID)
	if err != nil && r.conn.Degrade(ctx, err) {
		return r.listMem(func(res *Result) bool { return res.QuizID == quizID }), nil
	}
	return out, err
}

func (r *SQLiteResults) markSyncedMem(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.mem {
		if res.ID == id {
			res.Synced = true
		}
	}
}

func (r *SQLiteResults) MarkSynced(ctx context.Context, id int64) error {
	db, err := r.conn.DB(ctx)
	if errors.Is(err, common.ErrStoreUnavailable) {
		r.markSyncedMem(id)
		return nil
	}
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE results SET synced=1 WHERE id=? AND synced=0`, id); err != nil {
			return fmt.Errorf("failed to mark result synced: %w", err)
		}
		return nil
	})
	if err != nil && r.conn.Degrade(ctx, err) {
		r.markSyncedMem(id)
		return nil
	}
	return err
}

func (r *SQLiteResults) query(ctx context.Context, db *sql.DB, where string, args ...any) ([]*Result, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, quiz_id, user_id, breakdown, correct_count, total_questions,
		       percentage, verdict, elapsed_seconds, graded_at, synced
		FROM results `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		res := &Result{}
		var breakdown []byte
		var gradedAt int64
		var synced int
		if err := rows.Scan(&res.ID, &res.QuizID, &res.UserID, &breakdown,
			&res.CorrectCount, &res.TotalQuestions, &res.Percentage,
			&res.Verdict, &res.ElapsedSeconds, &gradedAt, &synced); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(breakdown, &res.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown: %w", err)
		}
		res.GradedAt = timeFromUnix(gradedAt)
		res.Synced = synced == 1
		out = append(out, res)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
