// Package roles defines the pluggable contracts for the adaptation
// cycle: the Generator answers a task citing playbook strategies, the
// host-supplied EnvironmentEvaluator scores the answer, the Reflector
// classifies the cited strategies, and the Curator converts the
// reflection into delta operations. Implementations are interchangeable
// behind these interfaces; the adapters never depend on a concrete one.
package roles

import (
	"context"

	"github.com/XiaoConstantine/ace-go/pkg/playbook"
)

// Task is one unit of work pulled through an adaptation cycle.
type Task struct {
	ID       string         `json:"id,omitempty"`
	Question string         `json:"question"`
	Context  string         `json:"context,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GeneratorOutput is the structured result of a generator run.
// StrategyIDs lists the playbook bullets the generator cited; it is
// always non-nil, possibly empty, even after partial failure recovery.
type GeneratorOutput struct {
	FinalAnswer string   `json:"final_answer"`
	Reasoning   string   `json:"reasoning,omitempty"`
	StrategyIDs []string `json:"strategy_ids"`
	Model       string   `json:"model,omitempty"`
}

// Verdict is the environment's judgment of a generator output. It is
// opaque to the engine beyond being passed through to the Reflector;
// VerdictSuccess implements the conventional success lookup.
type Verdict map[string]any

// VerdictSuccess derives a boolean outcome from a verdict: a "success"
// or "correct" boolean wins, then a numeric "score" >= 0.5.
func VerdictSuccess(v Verdict) bool {
	for _, key := range []string{"success", "correct"} {
		if b, ok := v[key].(bool); ok {
			return b
		}
	}
	switch score := v["score"].(type) {
	case float64:
		return score >= 0.5
	case int:
		return score >= 1
	}
	return false
}

// Classification labels one strategy's contribution to an outcome.
type Classification string

const (
	Helpful Classification = "helpful"
	Harmful Classification = "harmful"
	Neutral Classification = "neutral"
)

// StrategyFeedback is the reflector's judgment of a single bullet.
type StrategyFeedback struct {
	BulletID       string         `json:"bullet_id"`
	Classification Classification `json:"classification"`
	Rationale      string         `json:"rationale,omitempty"`
}

// Outcome summarizes a whole task execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Reflection is the reflector's structured analysis of one cycle.
type Reflection struct {
	Outcome  Outcome            `json:"outcome"`
	Insights string             `json:"insights,omitempty"`
	Feedback []StrategyFeedback `json:"strategy_feedback,omitempty"`
}

// Generator produces an answer for a task, given a rendered context
// block of playbook strategies.
type Generator interface {
	Run(ctx context.Context, task Task, contextBlock string) (*GeneratorOutput, error)
}

// Reflector classifies how each cited strategy contributed to the
// environment's verdict.
type Reflector interface {
	Evaluate(ctx context.Context, task Task, output *GeneratorOutput, verdict Verdict) (*Reflection, error)
}

// Curator converts a reflection into delta operations. At this layer
// curation is TAG-only; ADD/UPDATE/REMOVE are reserved for manual
// curation paths.
type Curator interface {
	Curate(reflection *Reflection) ([]playbook.DeltaOperation, error)
}

// EnvironmentEvaluator scores generator output. Supplied by the host:
// dataset ground truth, a heuristic, or a live signal.
type EnvironmentEvaluator interface {
	Evaluate(ctx context.Context, task Task, output *GeneratorOutput) (Verdict, error)
}
