package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
	"github.com/JakeFAU/contact-harvester/internal/storage/local"
)

// DefaultFileName is used when no file name is configured.
const DefaultFileName = "checkpoint.json"

// FileStore loads and saves whole checkpoint snapshots on the local filesystem.
type FileStore struct {
	files  *local.Store
	name   string
	clock  harvest.Clock
	logger *zap.Logger
}

// NewFileStore returns a store that keeps the checkpoint as name inside files.
func NewFileStore(files *local.Store, name string, clock harvest.Clock, logger *zap.Logger) (*FileStore, error) {
	if files == nil {
		return nil, fmt.Errorf("file store requires a local store")
	}
	if clock == nil {
		return nil, fmt.Errorf("file store requires a clock")
	}
	if name == "" {
		name = DefaultFileName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{files: files, name: name, clock: clock, logger: logger}, nil
}

// Name returns the checkpoint file name.
func (s *FileStore) Name() string {
	return s.name
}

// Load reads the checkpoint. found is false when no checkpoint exists yet.
func (s *FileStore) Load(ctx context.Context) (*Checkpoint, bool, error) {
	data, err := s.files.Read(ctx, s.name)
	if errors.Is(err, local.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, repair, err := Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if !repair.Empty() {
		s.logger.Warn("checkpoint repaired on load",
			zap.Strings("dropped_completed", repair.DroppedCompleted),
			zap.Strings("added_completed", repair.AddedCompleted),
			zap.Strings("dropped_results", repair.DroppedResults),
		)
	}
	completed, total := cp.Progress()
	s.logger.Info("checkpoint loaded",
		zap.String("run_id", cp.RunID()),
		zap.Int("completed", completed),
		zap.Int("total", total),
	)
	return cp, true, nil
}

// Save atomically replaces the checkpoint on disk with the current snapshot.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveCheckpointSave(err, time.Since(start))
	}()

	data, err := cp.Snapshot(s.clock.Now())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err = s.files.WriteAtomic(ctx, s.name, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
