package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestJSONLWriter_WriteCompletion(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }

	err := w.WriteCompletion(context.Background(), &CompletionRecord{
		DispatchID:    "d-1",
		ItemType:      "plot",
		Path:          "/mnt/a",
		Success:       true,
		UnitsProduced: 1024,
		DurationMs:    5000,
		BatchSize:     2,
	})
	require.NoError(t, err)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, TypeCompletion, records[0].Type)
	assert.Equal(t, "run-123", records[0].RunID)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), records[0].TS)

	var data CompletionRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &data))
	assert.Equal(t, "/mnt/a", data.Path)
	assert.Equal(t, uint64(1024), data.UnitsProduced)
	assert.Equal(t, 2, data.BatchSize)
}

func TestJSONLWriter_AllRecordTypes(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run")
	ctx := context.Background()

	require.NoError(t, w.WritePlan(ctx, &PlanRecord{Version: 1, Items: 4, TotalUnits: 30}))
	require.NoError(t, w.WriteProgress(ctx, &ProgressRecord{Phase: PhasePlotting, Percent: 25}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeEngine, Message: "disk full"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Outcome: "complete", Items: 4, Duration: time.Second, DurationHuman: "1s"}))

	records := decodeLines(t, &buf)
	require.Len(t, records, 4)
	assert.Equal(t, []string{TypePlan, TypeProgress, TypeError, TypeSummary},
		[]string{records[0].Type, records[1].Type, records[2].Type, records[3].Type})

	var sum map[string]any
	require.NoError(t, json.Unmarshal(records[3].Data, &sum))
	assert.Equal(t, float64(time.Second), sum["duration_ns"])
	assert.Equal(t, "1s", sum["duration"])
}

func TestJSONLWriter_Sink(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run")
	sink := Sink(w, nil)

	sink.Notify(plotter.Notification{DispatchID: "d", Type: plan.ItemCheckpoint, Path: "/mnt/a", Success: true})
	sink.Notify(plotter.Notification{DispatchID: "e", Type: plan.ItemPlot, Path: "/mnt/b", Error: "stopped by request"})

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	var second CompletionRecord
	require.NoError(t, json.Unmarshal(records[1].Data, &second))
	assert.Equal(t, "plot", second.ItemType)
	assert.False(t, second.Success)
	assert.Equal(t, "stopped by request", second.Error)
}

func TestJSONLWriter_SinkReportsErrors(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("pipe closed")}, "run")
	var got error
	Sink(w, func(err error) { got = err }).Notify(plotter.Notification{Type: plan.ItemPlot})
	require.Error(t, got)
	assert.Contains(t, got.Error(), "pipe closed")
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteProgress(context.Background(), &ProgressRecord{Phase: PhasePlotting})
		}()
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run")
	require.NoError(t, w.Close())

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WritePlan(ctx, &PlanRecord{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "run")

	err := w.WriteError(context.Background(), &ErrorRecord{Code: ErrCodeInternal})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run")

	err := w.WriteCompletion(context.Background(), &CompletionRecord{DispatchID: "d", ItemType: "plot", Path: "/mnt/a"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &record), "output should be valid JSON despite short writes")
	assert.Equal(t, TypeCompletion, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(zeroWriteWriter{}, "run")

	err := w.WritePlan(context.Background(), &PlanRecord{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

type zeroWriteWriter struct{}

func (zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(ErrorRecord{Code: ErrCodeInternal, Message: "Something went wrong"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "path")
	assert.NotContains(t, string(data), "details")
}

func BenchmarkJSONLWriter_WriteCompletion(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run")
	rec := &CompletionRecord{DispatchID: "d", ItemType: "plot", Path: "/mnt/a", Success: true, UnitsProduced: 1024}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteCompletion(ctx, rec)
	}
}
