package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair-audit.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	return l, path
}

func testEntry(outcome Outcome) Entry {
	return Entry{
		Socket:   "/var/run/sudo_pair/1000.4242.sock",
		User:     "alice",
		UID:      1000,
		Host:     "build01",
		Command:  "/usr/bin/systemctl restart nginx",
		RunasUID: 0,
		Outcome:  outcome,
		Reason:   "test",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(testEntry(OutcomeApproved)))
	}
	require.NoError(t, l.Close())

	result := Verify(path)
	require.True(t, result.Valid, "error at line %d: %s", result.ErrorLine, result.Error)
	assert.Equal(t, 5, result.Lines)
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(testEntry(OutcomeDenied)))
	}
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"denied"`, `"approved"`, 1)
	writeLines(t, path, lines)

	result := Verify(path)
	assert.False(t, result.Valid)
	assert.Equal(t, 3, result.ErrorLine)
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(testEntry(OutcomeApproved)))
	}
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.ErrorLine)
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(testEntry(OutcomeApproved)))
	}
	l.Close()

	lines := readLines(t, path)
	fake := testEntry(OutcomeExempt)
	fake.PrevHash = "sha256:fake"
	fakeJSON, err := json.Marshal(fake)
	require.NoError(t, err)
	writeLines(t, path, []string{lines[0], string(fakeJSON), lines[1], lines[2]})

	assert.False(t, Verify(path).Valid)
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	result := Verify(path)
	assert.True(t, result.Valid, result.Error)
	assert.Equal(t, 0, result.Lines)
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "open")
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry(OutcomeApproved))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	require.True(t, result.Valid, "error at line %d: %s", result.ErrorLine, result.Error)
	assert.Equal(t, 50, result.Lines)
}

func TestSeparateHandlesShareChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.jsonl")

	a, err := Open(path)
	require.NoError(t, err)
	b, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Record(testEntry(OutcomeApproved)))
		require.NoError(t, b.Record(testEntry(OutcomeDenied)))
	}
	a.Close()
	b.Close()

	result := Verify(path)
	require.True(t, result.Valid, "error at line %d: %s", result.ErrorLine, result.Error)
	assert.Equal(t, 6, result.Lines)
}

func TestGenesisHashOnFirstEntry(t *testing.T) {
	l, path := newTestLog(t)
	require.NoError(t, l.Record(testEntry(OutcomeApproved)))
	l.Close()

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(readLines(t, path)[0]), &e))
	assert.Equal(t, GenesisHash, e.PrevHash)
	assert.NotEmpty(t, e.Timestamp)
}

func TestHashLine(t *testing.T) {
	line := []byte(`{"ts":"2025-01-15T10:30:00.000Z","outcome":"approved"}`)
	h := HashLine(line)

	assert.Equal(t, h, HashLine(line))
	assert.True(t, strings.HasPrefix(h, "sha256:"))
	assert.Len(t, h, 7+64)
	assert.NotEqual(t, h, HashLine([]byte("other")))
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.jsonl")

	l1, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, l1.Record(testEntry(OutcomeApproved)))
	}
	l1.Close()

	l2, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, l2.Record(testEntry(OutcomeTerminated)))
	}
	l2.Close()

	result := Verify(path)
	require.True(t, result.Valid, result.Error)
	assert.Equal(t, 5, result.Lines)
}
