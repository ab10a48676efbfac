package adapters

import (
	"context"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/XiaoConstantine/ace-go/pkg/playbook"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
)

// Event is a single live interaction fed to the online adapter.
type Event struct {
	// ID identifies the event for audit metadata. Callers that may
	// deliver the same event twice should dedup on it before calling
	// Process; the adapter applies every event it receives.
	ID          string
	Question    string
	Context     string
	SessionID   string
	Description string
}

// OnlineConfig tunes per-event adaptation.
type OnlineConfig struct {
	// MaxStrategies bounds the strategies injected into generator
	// context per event.
	MaxStrategies int
	// AppliedBy attributes committed revisions.
	AppliedBy string
}

func (c *OnlineConfig) normalize() {
	if c.MaxStrategies <= 0 {
		c.MaxStrategies = 10
	}
	if c.AppliedBy == "" {
		c.AppliedBy = "online-adapter"
	}
}

// Online applies the role pipeline to individual events as they
// arrive, committing one revision per event that yields deltas.
type Online struct {
	store       *playbook.Store
	generator   roles.Generator
	environment roles.EnvironmentEvaluator
	reflector   roles.Reflector
	curator     roles.Curator
	config      OnlineConfig
}

// NewOnline wires an online adapter.
func NewOnline(store *playbook.Store, generator roles.Generator, environment roles.EnvironmentEvaluator,
	reflector roles.Reflector, curator roles.Curator, config OnlineConfig) *Online {
	config.normalize()
	return &Online{
		store:       store,
		generator:   generator,
		environment: environment,
		reflector:   reflector,
		curator:     curator,
		config:      config,
	}
}

// Process runs one event through the pipeline. When precomputed is
// non-nil the generator is skipped and the supplied output is
// evaluated instead, supporting callers that already produced an
// answer in the serving path. Returns nil when the curator emits no
// deltas.
func (o *Online) Process(ctx context.Context, event Event, precomputed *roles.GeneratorOutput) (*playbook.Revision, error) {
	if err := errors.CheckContext(ctx, "online event"); err != nil {
		return nil, err
	}
	logger := logging.GetLogger()

	task := roles.Task{
		ID:       event.ID,
		Question: event.Question,
		Context:  event.Context,
	}

	output := precomputed
	if output == nil {
		contextBlock, _, err := strategyContext(ctx, o.store, o.config.MaxStrategies)
		if err != nil {
			return nil, err
		}
		output, err = o.generator.Run(ctx, task, contextBlock)
		if err != nil {
			return nil, errors.Wrap(err, errors.RoleFailed, "generator failed")
		}
	}

	verdict, err := o.environment.Evaluate(ctx, task, output)
	if err != nil {
		return nil, errors.Wrap(err, errors.EnvironmentFailed, "environment evaluation failed")
	}

	reflection, err := o.reflector.Evaluate(ctx, task, output, verdict)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoleFailed, "reflector failed")
	}

	ops, err := o.curator.Curate(reflection)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoleFailed, "curator failed")
	}
	if len(ops) == 0 {
		logger.Debug(ctx, "event %s produced no deltas", event.ID)
		return nil, nil
	}

	description := event.Description
	if description == "" {
		description = "online adaptation"
	}
	metadata := map[string]any{"event_id": event.ID}
	if event.SessionID != "" {
		metadata["session_id"] = event.SessionID
	}

	return o.store.ApplyDelta(ctx, ops, playbook.ApplyOptions{
		AppliedBy:   o.config.AppliedBy,
		Description: description,
		Metadata:    metadata,
	})
}
