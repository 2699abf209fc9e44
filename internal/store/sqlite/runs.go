package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ezweb_signin/internal/model"
)

func (s *Store) InsertRun(ctx context.Context, rec model.RunRecord) (model.RunRecord, error) {
	if strings.TrimSpace(rec.Username) == "" {
		return model.RunRecord{}, errors.New("username is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = rec.StartedAt
	}
	if rec.Lines == nil {
		rec.Lines = []string{}
	}
	linesJSON, err := json.Marshal(rec.Lines)
	if err != nil {
		return model.RunRecord{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, username, succeeded, attempts, lines_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Username, boolToInt(rec.Succeeded), rec.Attempts, string(linesJSON), rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	if err != nil {
		return model.RunRecord{}, err
	}
	return rec, nil
}

type RunFilter struct {
	Username string
	Limit    int
}

// ListRuns 按开始时间倒序返回记录。
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]model.RunRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, username, succeeded, attempts, lines_json, started_at, finished_at FROM runs`
	args := []any{}
	if u := strings.TrimSpace(f.Username); u != "" {
		query += ` WHERE username = ?`
		args = append(args, u)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RunRecord, 0)
	for rows.Next() {
		var (
			rec        model.RunRecord
			succeeded  int
			linesJSON  string
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Username, &succeeded, &rec.Attempts, &linesJSON, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		rec.Succeeded = succeeded != 0
		_ = json.Unmarshal([]byte(linesJSON), &rec.Lines)
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
