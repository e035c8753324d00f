package export

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Multi fans results out to several sinks. Every sink is attempted; failures are joined.
type Multi struct {
	Sinks  []harvest.ResultSink
	Logger *zap.Logger
}

// Name implements harvest.ResultSink.
func (m Multi) Name() string { return "multi" }

// Write implements harvest.ResultSink.
func (m Multi) Write(ctx context.Context, results []harvest.Result) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs []error
	for _, sink := range m.Sinks {
		if err := sink.Write(ctx, results); err != nil {
			logger.Error("result sink failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		logger.Info("results exported", zap.String("sink", sink.Name()), zap.Int("count", len(results)))
	}
	return errors.Join(errs...)
}
