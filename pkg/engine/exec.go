package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Event types emitted by an external engine process, one JSON object per
// stdout line.
const (
	EventStarted = "started"
	EventHashing = "hashing"
	EventWriting = "writing"
	EventSpeed   = "speed"
	EventError   = "error"
)

// Event is one progress line written by an external engine.
type Event struct {
	Event        string  `json:"event"`
	Total        uint64  `json:"total,omitempty"`
	ResumeOffset uint64  `json:"resumeOffset,omitempty"`
	Delta        uint64  `json:"delta,omitempty"`
	MiBPerSec    float64 `json:"mibPerSec,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// ExecConfig configures an Exec engine.
type ExecConfig struct {
	// Path is the engine binary.
	Path string

	// Args are passed before the task flag.
	Args []string

	// LogDir receives one stderr log per invocation when set.
	LogDir string
}

// Exec runs the engine as a child process.
//
// The task is written to the child's stdin as JSON. The child reports
// progress as Event lines on stdout and exits non-zero on failure.
// Cancelling ctx kills the child.
type Exec struct {
	cfg ExecConfig
}

// NewExec creates an Exec engine.
func NewExec(cfg ExecConfig) (*Exec, error) {
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return nil, errors.New("engine path is required")
	}
	return &Exec{cfg: cfg}, nil
}

// Plot runs one task in a child process.
func (e *Exec) Plot(ctx context.Context, task Task, cb Callback) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if cb == nil {
		cb = NopCallback{}
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	args := append(append([]string(nil), e.cfg.Args...), "--task", "-")
	cmd := exec.CommandContext(ctx, e.cfg.Path, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if e.cfg.LogDir != "" {
		logFile, err := e.openLog()
		if err != nil {
			return err
		}
		defer func() { _ = logFile.Close() }()
		cmd.Stderr = io.MultiWriter(&stderr, logFile)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	reported, scanErr := relayEvents(stdout, cb)
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if reported != "" {
		return fmt.Errorf("engine: %s", reported)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("engine exited: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("engine exited: %w", waitErr)
	}
	if scanErr != nil {
		return fmt.Errorf("read engine output: %w", scanErr)
	}
	return nil
}

func (e *Exec) openLog() (*os.File, error) {
	if err := os.MkdirAll(e.cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("create engine log dir: %w", err)
	}
	f, err := os.CreateTemp(e.cfg.LogDir, "engine-*.log")
	if err != nil {
		return nil, fmt.Errorf("create engine log: %w", err)
	}
	return f, nil
}

// relayEvents forwards progress lines to cb. Lines that are not events are
// ignored. It returns the message of the last error event, if any.
func relayEvents(r io.Reader, cb Callback) (string, error) {
	var reported string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch ev.Event {
		case EventStarted:
			cb.Started(ev.Total, ev.ResumeOffset)
		case EventHashing:
			cb.HashingProgress(ev.Delta)
		case EventWriting:
			cb.WritingProgress(ev.Delta)
		case EventSpeed:
			cb.Speed(ev.MiBPerSec)
		case EventError:
			reported = ev.Message
		}
	}
	return reported, sc.Err()
}

// LogDirFor returns the engine log directory below a data dir.
func LogDirFor(dataDir string) string {
	return filepath.Join(dataDir, "engine-logs")
}

var _ Engine = (*Exec)(nil)
