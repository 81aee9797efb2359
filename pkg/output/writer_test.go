package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/psub/pkg/job"
	"github.com/3leaps/psub/pkg/ledger"
	"github.com/3leaps/psub/pkg/status"
)

func report(raw map[int]string) *status.Report {
	j := job.New("w", job.DefaultResources(), job.Paths{Root: "/r", Scratch: "/s"}, time.Unix(0, 0))
	j.Add("echo a", "echo b", "echo c")
	entries := make(map[int]ledger.Entry, len(raw))
	for task, r := range raw {
		entries[task] = ledger.Entry{Task: task, Raw: r, Status: ledger.Decode(r)}
	}
	return status.Build(j, entries)
}

func readRecords(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriteReport_EmitsOnlyTransitions(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "w.1")
	w.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, w.WriteReport(ctx, report(map[int]string{1: "started"})))
	require.NoError(t, w.WriteReport(ctx, report(map[int]string{1: "started"})))
	require.NoError(t, w.WriteReport(ctx, report(map[int]string{1: "0", 2: "2"})))

	recs := readRecords(t, &buf)
	types := make([]string, len(recs))
	for i, r := range recs {
		types[i] = r.Type
		assert.Equal(t, "w.1", r.Job)
	}
	assert.Equal(t, []string{
		TypeTransition, TypeStatus,
		TypeStatus,
		TypeTransition, TypeTransition, TypeStatus,
	}, types)

	var first TransitionRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &first))
	assert.Equal(t, TransitionRecord{Task: 1, Command: "echo a", From: "Not yet started", To: "Started"}, first)

	var failed TransitionRecord
	require.NoError(t, json.Unmarshal(recs[4].Data, &failed))
	assert.Equal(t, 2, failed.Task)
	require.NotNil(t, failed.ExitCode)
	assert.Equal(t, 2, *failed.ExitCode)

	var last StatusRecord
	require.NoError(t, json.Unmarshal(recs[5].Data, &last))
	assert.Equal(t, "Errors [33%]", last.Label)
	assert.Equal(t, 3, last.Counts.Total)
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "w.1")
	require.NoError(t, w.WriteError(context.Background(), "ledger locked"))

	recs := readRecords(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeError, recs[0].Type)
	assert.JSONEq(t, `{"message":"ledger locked"}`, string(recs[0].Data))
}

func TestClosedWriter(t *testing.T) {
	w := NewJSONLWriter(io.Discard, "w.1")
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteReport(context.Background(), report(nil)), ErrWriterClosed)
	assert.ErrorIs(t, w.WriteError(context.Background(), "x"), ErrWriterClosed)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := NewJSONLWriter(&buf, "w.1").WriteReport(ctx, report(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 7 {
		p = p[:7]
	}
	return s.buf.Write(p)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestShortAndFailingWrites(t *testing.T) {
	sw := &shortWriter{}
	require.NoError(t, NewJSONLWriter(sw, "w.1").WriteError(context.Background(), "partial"))
	recs := readRecords(t, &sw.buf)
	require.Len(t, recs, 1)

	err := NewJSONLWriter(failingWriter{}, "w.1").WriteError(context.Background(), "x")
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
}
