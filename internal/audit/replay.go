package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects entries for Replay. Zero fields match everything.
type Filter struct {
	User    string
	Outcome Outcome
	From    time.Time
	To      time.Time
}

// Summary counts outcomes across replayed entries.
type Summary struct {
	Total          int             `json:"total"`
	Outcomes       map[Outcome]int `json:"outcomes"`
	FirstTimestamp string          `json:"first_timestamp"`
	LastTimestamp  string          `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the audit log and returns entries matching f. Malformed
// lines are skipped.
func Replay(path string, f Filter) (*ReplayResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	result := &ReplayResult{Summary: Summary{Outcomes: map[Outcome]int{}}}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !f.match(e) {
			continue
		}
		result.Entries = append(result.Entries, e)

		s := &result.Summary
		s.Total++
		s.Outcomes[e.Outcome]++
		if s.FirstTimestamp == "" {
			s.FirstTimestamp = e.Timestamp
		}
		s.LastTimestamp = e.Timestamp
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f Filter) match(e Entry) bool {
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}
