package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed files, one per
// segment, named <prefix>-<segment>.jsonl.zst. Writing to a different
// segment closes the current file. Returning to a segment appends a new
// zstd frame to its file.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	segment string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewJSONLZstdWriter creates a writer under baseDir. No file is opened until
// the first Write.
func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix}
}

// Close flushes and closes the current file.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as one JSON line to the segment's file.
func (w *JSONLZstdWriter) Write(segment string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if segment != w.segment || w.w == nil {
		if err := w.openLocked(segment); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through to the current file.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

// Path returns the file a segment is written to.
func (w *JSONLZstdWriter) Path(segment string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, segment))
}

func (w *JSONLZstdWriter) openLocked(segment string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.Path(segment)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.segment = segment
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f, w.enc, w.w = nil, nil, nil
	w.segment = ""
	return err
}

// Decision is one agent's answer for one day.
type Decision struct {
	Run       int     `json:"run"`
	Day       int     `json:"day"`
	Date      string  `json:"date"`
	AgentID   uint64  `json:"agent_id"`
	Name      string  `json:"name"`
	Health    string  `json:"health"`
	StayHome  bool    `json:"stay_home"`
	Response  string  `json:"response"`
	Rationale *string `json:"rationale"`
}

// DecisionLog records every agent decision. A nil DecisionLog is safe to
// use; all methods are no-ops.
type DecisionLog struct {
	w *JSONLZstdWriter
}

// NewDecisionLog writes one file per run into dir, named
// decisions-run-<N>.jsonl.zst. An empty dir disables the log and returns nil.
func NewDecisionLog(dir string) *DecisionLog {
	if dir == "" {
		return nil
	}
	return &DecisionLog{w: NewJSONLZstdWriter(dir, "decisions")}
}

// WriteDay appends one day's decisions to the run's file and flushes them.
func (l *DecisionLog) WriteDay(run int, ds []Decision) error {
	if l == nil {
		return nil
	}
	seg := runSegment(run)
	for _, d := range ds {
		if err := l.w.Write(seg, d); err != nil {
			return err
		}
	}
	return l.w.Flush()
}

// Path returns the decision file of a run.
func (l *DecisionLog) Path(run int) string {
	if l == nil {
		return ""
	}
	return l.w.Path(runSegment(run))
}

// Close closes the current file.
func (l *DecisionLog) Close() error {
	if l == nil {
		return nil
	}
	return l.w.Close()
}

func runSegment(run int) string {
	return fmt.Sprintf("run-%d", run)
}
