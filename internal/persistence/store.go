package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/dewberry/internal/engine"
)

// Store writes and reads the checkpoints of one run under
// <Dir>/run-<Run>/<Name>-<label>.ckpt.
type Store struct {
	Dir        string
	Name       string
	Run        int
	TargetDays int

	// Index, when set, records every saved checkpoint under RunUID.
	Index  *Index
	RunUID string

	Logger *slog.Logger

	now func() time.Time
}

// NewStore creates a store for run number run.
func NewStore(dir, name string, run int) *Store {
	return &Store{
		Dir:    dir,
		Name:   name,
		Run:    run,
		Logger: slog.Default(),
		now:    time.Now,
	}
}

// RunDir is the directory holding this run's checkpoints.
func (s *Store) RunDir() string {
	return filepath.Join(s.Dir, fmt.Sprintf("run-%d", s.Run))
}

// Path returns the file path for a checkpoint label.
func (s *Store) Path(label string) string {
	return filepath.Join(s.RunDir(), fmt.Sprintf("%s-%s.ckpt", s.Name, label))
}

// Save writes a checkpoint of sim atomically. It implements
// engine.Checkpointer.
func (s *Store) Save(sim *engine.Simulation, label string) error {
	cp, err := Snapshot(sim)
	if err != nil {
		return err
	}
	cp.Config.TargetDays = s.TargetDays
	cp.Header = Header{
		RunName:   s.Name,
		Run:       s.Run,
		Day:       sim.Day,
		Label:     label,
		CreatedAt: s.now().UTC(),
	}

	dir := s.RunDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, cp); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	path := s.Path(label)
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install checkpoint: %w", err)
	}

	s.Logger.Info("checkpoint saved",
		"run", s.Run,
		"label", label,
		"day", sim.Day,
		"path", path,
		"size", humanize.Bytes(uint64(info.Size())),
	)

	if s.Index != nil && s.RunUID != "" {
		rec := CheckpointRecord{
			RunUID:    s.RunUID,
			Day:       sim.Day,
			Label:     label,
			Path:      path,
			Size:      info.Size(),
			CreatedAt: cp.Header.CreatedAt,
		}
		if err := s.Index.RecordCheckpoint(rec); err != nil {
			s.Logger.Warn("checkpoint index write failed", "label", label, "error", err)
		}
	}
	return nil
}

// Load reads and verifies the checkpoint at path.
func Load(path string) (CheckpointV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return CheckpointV1{}, err
	}
	defer f.Close()

	cp, err := Decode(f)
	if err != nil {
		return cp, fmt.Errorf("%s: %w", path, err)
	}
	return cp, nil
}

// ResumeResult reports where a run starts from.
type ResumeResult struct {
	Sim     *engine.Simulation
	Resumed bool
	Path    string // Checkpoint loaded, if Resumed
}

// Resume loads the checkpoint saved after day in this run. If it cannot be
// read or restored, a warning is logged and fresh builds the starting state
// instead.
func (s *Store) Resume(day int, fresh func() (*engine.Simulation, error)) (ResumeResult, error) {
	path := s.Path(strconv.Itoa(day))
	if s.Index != nil {
		if rec, err := s.Index.CheckpointAt(s.Name, s.Run, day); err == nil {
			path = rec.Path
		}
	}

	cp, err := Load(path)
	if err == nil {
		var sim *engine.Simulation
		sim, err = Restore(cp)
		if err == nil {
			s.Logger.Info("resumed from checkpoint", "path", path, "day", sim.Day, "date", sim.Date.Format(dateLayout))
			return ResumeResult{Sim: sim, Resumed: true, Path: path}, nil
		}
	}

	s.Logger.Warn("could not resume, starting fresh", "run", s.Run, "day", day, "error", err)
	sim, ferr := fresh()
	if ferr != nil {
		return ResumeResult{}, ferr
	}
	return ResumeResult{Sim: sim}, nil
}
