package adapters

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/XiaoConstantine/ace-go/pkg/playbook"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
	"github.com/sourcegraph/conc/pool"
)

// OfflineConfig tunes the batch training loop.
type OfflineConfig struct {
	// BatchSize is the number of tasks whose deltas are committed in a
	// single apply call.
	BatchSize int
	// Epochs is the number of passes over the training split.
	Epochs int
	// MaxConcurrent bounds the goroutines running role pipelines
	// within one batch.
	MaxConcurrent int
	// ValidationSplit is the trailing fraction of the dataset reserved
	// for metrics-only evaluation.
	ValidationSplit float64
	// CheckpointPath persists resume state; empty disables
	// checkpointing.
	CheckpointPath string
	// MaxStrategies bounds the strategies injected into generator
	// context per batch.
	MaxStrategies int
	// AppliedBy attributes committed revisions.
	AppliedBy string
}

func (c *OfflineConfig) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.Epochs <= 0 {
		c.Epochs = 1
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.ValidationSplit < 0 {
		c.ValidationSplit = 0
	}
	if c.ValidationSplit > 0.9 {
		c.ValidationSplit = 0.9
	}
	if c.MaxStrategies <= 0 {
		c.MaxStrategies = 10
	}
	if c.AppliedBy == "" {
		c.AppliedBy = "offline-adapter"
	}
}

// EpochStats summarizes one training pass.
type EpochStats struct {
	Epoch                 int     `json:"epoch"`
	Tasks                 int     `json:"tasks"`
	Failures              int     `json:"failures"`
	SuccessRate           float64 `json:"success_rate"`
	HelpfulDeltas         int     `json:"helpful_deltas"`
	HarmfulDeltas         int     `json:"harmful_deltas"`
	ValidationTasks       int     `json:"validation_tasks"`
	ValidationSuccessRate float64 `json:"validation_success_rate"`
}

// Summary is the result of an offline run.
type Summary struct {
	Epochs    []EpochStats `json:"epochs"`
	Revisions []string     `json:"revisions"`
	Completed int          `json:"completed"`
}

// Offline replays a dataset through the adaptation roles, committing
// one delta batch per BatchSize tasks.
type Offline struct {
	store       *playbook.Store
	generator   roles.Generator
	environment roles.EnvironmentEvaluator
	reflector   roles.Reflector
	curator     roles.Curator
	config      OfflineConfig
}

// NewOffline wires an offline adapter.
func NewOffline(store *playbook.Store, generator roles.Generator, environment roles.EnvironmentEvaluator,
	reflector roles.Reflector, curator roles.Curator, config OfflineConfig) *Offline {
	config.normalize()
	return &Offline{
		store:       store,
		generator:   generator,
		environment: environment,
		reflector:   reflector,
		curator:     curator,
		config:      config,
	}
}

// cycleResult is the outcome of one task's role pipeline.
type cycleResult struct {
	ops     []playbook.DeltaOperation
	success bool
	err     error
}

// Run executes the configured number of epochs over the dataset,
// resuming from the checkpoint when one exists. Role and environment
// failures are counted and skipped; store failures abort the run. A
// cancelled context surfaces between tasks, losing at most the
// in-flight uncommitted batch.
func (o *Offline) Run(ctx context.Context, tasks []roles.Task) (*Summary, error) {
	logger := logging.GetLogger()

	trainCount := len(tasks) - int(float64(len(tasks))*o.config.ValidationSplit)
	train := tasks[:trainCount]
	validation := tasks[trainCount:]

	cp, err := loadCheckpoint(o.config.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if cp.Epoch > 0 || cp.NextTask > 0 {
		logger.Info(ctx, "resuming offline run from epoch %d, task %d", cp.Epoch, cp.NextTask)
	}

	summary := &Summary{}
	for epoch := cp.Epoch; epoch < o.config.Epochs; epoch++ {
		stats := EpochStats{Epoch: epoch}
		successes := 0

		start := 0
		if epoch == cp.Epoch {
			start = cp.NextTask
		}

		for batchStart := start; batchStart < len(train); batchStart += o.config.BatchSize {
			if err := errors.CheckContext(ctx, "offline run"); err != nil {
				summary.Epochs = append(summary.Epochs, finalizeStats(stats, successes))
				return summary, err
			}

			batchEnd := min(batchStart+o.config.BatchSize, len(train))
			batch := train[batchStart:batchEnd]

			results := o.runBatch(ctx, batch)

			var ops []playbook.DeltaOperation
			for i, result := range results {
				stats.Tasks++
				if result.err != nil {
					stats.Failures++
					logger.Warn(ctx, "task %d failed, skipping: %v", batchStart+i, result.err)
					continue
				}
				if result.success {
					successes++
				}
				for _, op := range result.ops {
					stats.HelpfulDeltas += op.HelpfulDelta
					stats.HarmfulDeltas += op.HarmfulDelta
				}
				ops = append(ops, result.ops...)
			}

			if len(ops) > 0 {
				revision, err := o.store.ApplyDelta(ctx, ops, playbook.ApplyOptions{
					AppliedBy:   o.config.AppliedBy,
					Description: fmt.Sprintf("epoch %d tasks %d-%d", epoch, batchStart, batchEnd-1),
					Metadata:    map[string]any{"epoch": epoch},
				})
				if err != nil {
					return summary, err
				}
				summary.Revisions = append(summary.Revisions, revision.ID)
			}

			summary.Completed += len(batch)
			if err := saveCheckpoint(o.config.CheckpointPath, checkpoint{Epoch: epoch, NextTask: batchEnd}); err != nil {
				return summary, err
			}
		}

		o.runValidation(ctx, validation, &stats)

		summary.Epochs = append(summary.Epochs, finalizeStats(stats, successes))
		if err := saveCheckpoint(o.config.CheckpointPath, checkpoint{Epoch: epoch + 1}); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// runBatch executes the role pipeline for each task under a bounded
// goroutine pool. Results keep task order so delta batches stay
// deterministic.
func (o *Offline) runBatch(ctx context.Context, batch []roles.Task) []cycleResult {
	contextBlock, _, err := strategyContext(ctx, o.store, o.config.MaxStrategies)
	if err != nil {
		results := make([]cycleResult, len(batch))
		for i := range results {
			results[i] = cycleResult{err: err}
		}
		return results
	}

	results := make([]cycleResult, len(batch))
	p := pool.New().WithMaxGoroutines(o.config.MaxConcurrent)
	for i, task := range batch {
		i, task := i, task
		p.Go(func() {
			results[i] = o.cycle(ctx, task, contextBlock)
		})
	}
	p.Wait()

	return results
}

// cycle runs Generator→Environment→Reflector→Curator for one task. All
// role invocations happen here, outside any store transaction.
func (o *Offline) cycle(ctx context.Context, task roles.Task, contextBlock string) cycleResult {
	output, err := o.generator.Run(ctx, task, contextBlock)
	if err != nil {
		return cycleResult{err: errors.Wrap(err, errors.RoleFailed, "generator failed")}
	}

	verdict, err := o.environment.Evaluate(ctx, task, output)
	if err != nil {
		return cycleResult{err: errors.Wrap(err, errors.EnvironmentFailed, "environment evaluation failed")}
	}

	reflection, err := o.reflector.Evaluate(ctx, task, output, verdict)
	if err != nil {
		return cycleResult{err: errors.Wrap(err, errors.RoleFailed, "reflector failed")}
	}

	ops, err := o.curator.Curate(reflection)
	if err != nil {
		return cycleResult{err: errors.Wrap(err, errors.RoleFailed, "curator failed")}
	}

	return cycleResult{ops: ops, success: roles.VerdictSuccess(verdict)}
}

// runValidation evaluates the held-out split for metrics only; nothing
// reaches the curator or the store.
func (o *Offline) runValidation(ctx context.Context, validation []roles.Task, stats *EpochStats) {
	if len(validation) == 0 {
		return
	}

	contextBlock, _, err := strategyContext(ctx, o.store, o.config.MaxStrategies)
	if err != nil {
		return
	}

	successes := 0
	for _, task := range validation {
		if ctx.Err() != nil {
			return
		}

		output, err := o.generator.Run(ctx, task, contextBlock)
		if err != nil {
			stats.ValidationTasks++
			continue
		}
		verdict, err := o.environment.Evaluate(ctx, task, output)
		if err != nil {
			stats.ValidationTasks++
			continue
		}
		// The reflection is computed for parity with training metrics
		// but its deltas are discarded.
		_, _ = o.reflector.Evaluate(ctx, task, output, verdict)

		stats.ValidationTasks++
		if roles.VerdictSuccess(verdict) {
			successes++
		}
	}

	if stats.ValidationTasks > 0 {
		stats.ValidationSuccessRate = float64(successes) / float64(stats.ValidationTasks)
	}
}

// finalizeStats fills in the epoch's training success rate.
func finalizeStats(stats EpochStats, successes int) EpochStats {
	if stats.Tasks > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.Tasks)
	}
	return stats
}
