package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// Writer outputs JSONL records for a run.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	WritePlan(ctx context.Context, p *PlanRecord) error
	WriteCompletion(ctx context.Context, c *CompletionRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex so lines never interleave.
type JSONLWriter struct {
	w     io.Writer
	runID string
	now   func() time.Time
	mu    sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer tagging every record with runID.
func NewJSONLWriter(w io.Writer, runID string) *JSONLWriter {
	return &JSONLWriter{w: w, runID: runID, now: time.Now}
}

// WritePlan emits a plan record.
func (jw *JSONLWriter) WritePlan(ctx context.Context, p *PlanRecord) error {
	return jw.writeRecord(ctx, TypePlan, p)
}

// WriteCompletion emits a completion record.
func (jw *JSONLWriter) WriteCompletion(ctx context.Context, c *CompletionRecord) error {
	return jw.writeRecord(ctx, TypeCompletion, c)
}

// WriteProgress emits a progress record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// The underlying writer is NOT closed; that stays with the caller.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:  recordType,
		TS:    jw.now().UTC(),
		RunID: jw.runID,
		Data:  dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// CompletionFromNotification converts a plotter notification to a record.
func CompletionFromNotification(n plotter.Notification) *CompletionRecord {
	return &CompletionRecord{
		DispatchID:    n.DispatchID,
		ItemType:      string(n.Type),
		Path:          n.Path,
		Success:       n.Success,
		UnitsProduced: n.UnitsProduced,
		DurationMs:    n.DurationMs,
		BatchSize:     n.BatchSize,
		Error:         n.Error,
	}
}

// Sink returns a plotter.Sink writing one completion record per
// notification. Write failures are passed to onErr when it is non-nil.
func Sink(w Writer, onErr func(error)) plotter.Sink {
	return plotter.SinkFunc(func(n plotter.Notification) {
		if err := w.WriteCompletion(context.Background(), CompletionFromNotification(n)); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
