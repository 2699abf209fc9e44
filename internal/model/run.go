package model

import (
	"strings"
	"time"
)

type RunOutcome struct {
	Succeeded    bool `json:"succeeded"`
	AttemptsUsed int  `json:"attemptsUsed"`
}

// AttemptResult 记录一个账号整次签到过程中的提示信息，只追加不清空。
type AttemptResult struct {
	lines []string
}

func (r *AttemptResult) Append(line string) {
	r.lines = append(r.lines, line)
}

func (r *AttemptResult) Lines() []string {
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *AttemptResult) Len() int { return len(r.lines) }

func (r *AttemptResult) Join(sep string) string {
	return strings.Join(r.lines, sep)
}

type RunRecord struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Succeeded  bool      `json:"succeeded"`
	Attempts   int       `json:"attempts"`
	Lines      []string  `json:"lines"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
