package feedback

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_AppendWritesOneJSONLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(Record{RunbookID: "rb-1", ProcedureID: "p-1", Outcome: OutcomeSuccess}))
	require.NoError(t, sink.Append(Record{RunbookID: "rb-1", ProcedureID: "p-2", Outcome: OutcomeFailure, Notes: "rollback needed"}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "p-1", lines[0].ProcedureID)
	assert.Equal(t, OutcomeFailure, lines[1].Outcome)
	assert.False(t, lines[0].Timestamp.IsZero())
}

func TestSink_AppendIsDurableAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	sink, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(Record{RunbookID: "rb-1", ProcedureID: "p-1", Outcome: OutcomeSuccess}))
	require.NoError(t, sink.Close())

	sink2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, sink2.Append(Record{RunbookID: "rb-2", ProcedureID: "p-2", Outcome: OutcomePartialSuccess}))
	require.NoError(t, sink2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}

func TestOutcome_Valid(t *testing.T) {
	assert.True(t, OutcomeSuccess.Valid())
	assert.True(t, OutcomePartialSuccess.Valid())
	assert.True(t, OutcomeFailure.Valid())
	assert.False(t, Outcome("bogus").Valid())
}
