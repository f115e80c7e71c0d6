package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Detector analyses one immutable aggregation snapshot and emits signals.
// Implementations may keep private history between calls but must never
// touch shared state: within a tick all detectors read the same snapshot
// concurrently.
type Detector interface {
	Name() string
	Detect(snap *aggregate.Snapshot) []models.Signal
}

// Result pairs a detector's output with its failure state for one tick.
type Result struct {
	Detector string
	Signals  []models.Signal
	Err      error
}

// RunAll executes every detector concurrently over the snapshot. A panic in
// one detector is recovered and reported as that detector's error; the
// others proceed. Results are returned in detector order so downstream
// merging stays deterministic.
func RunAll(ctx context.Context, logger *slog.Logger, snap *aggregate.Snapshot, ds []Detector) []Result {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]Result, len(ds))

	var wg sync.WaitGroup
	for i, d := range ds {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{Detector: d.Name(), Err: fmt.Errorf("detector panic: %v", r)}
					logger.Error("detector panicked", slog.String("detector", d.Name()), slog.Any("panic", r))
				}
			}()
			if ctx.Err() != nil {
				results[i] = Result{Detector: d.Name(), Err: ctx.Err()}
				return
			}
			results[i] = Result{Detector: d.Name(), Signals: d.Detect(snap)}
		}(i, d)
	}
	wg.Wait()
	return results
}
