package roles

import (
	"context"
	"strings"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
)

// StaticGenerator returns a fixed answer citing the strategies it was
// handed. Useful for tests and for datasets where the answer is
// produced elsewhere.
type StaticGenerator struct {
	Answer      string
	Reasoning   string
	StrategyIDs []string
}

// Run implements Generator.
func (g *StaticGenerator) Run(ctx context.Context, task Task, contextBlock string) (*GeneratorOutput, error) {
	if err := errors.CheckContext(ctx, "generator"); err != nil {
		return nil, err
	}
	ids := g.StrategyIDs
	if ids == nil {
		ids = []string{}
	}
	return &GeneratorOutput{
		FinalAnswer: g.Answer,
		Reasoning:   g.Reasoning,
		StrategyIDs: ids,
	}, nil
}

// ExactMatchEvaluator scores a generator output against the task's
// expected answer, after trimming and case folding. It is the standard
// environment for offline datasets with ground truth.
type ExactMatchEvaluator struct{}

// Evaluate implements EnvironmentEvaluator.
func (e *ExactMatchEvaluator) Evaluate(ctx context.Context, task Task, output *GeneratorOutput) (Verdict, error) {
	if output == nil {
		return nil, errors.New(errors.EnvironmentFailed, "no generator output to evaluate")
	}
	got := normalizeAnswer(output.FinalAnswer)
	want := normalizeAnswer(task.Expected)
	success := want != "" && got == want
	return Verdict{
		"success":  success,
		"expected": task.Expected,
		"answer":   output.FinalAnswer,
	}, nil
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// OutcomeReflector classifies every cited strategy by the verdict's
// overall outcome: all helpful on success, all harmful on failure. It
// needs no model call, which makes it the default for offline runs.
type OutcomeReflector struct{}

// Evaluate implements Reflector.
func (r *OutcomeReflector) Evaluate(ctx context.Context, task Task, output *GeneratorOutput, verdict Verdict) (*Reflection, error) {
	if output == nil {
		return nil, errors.New(errors.RoleFailed, "reflector requires generator output")
	}

	outcome := OutcomeFailure
	classification := Harmful
	if VerdictSuccess(verdict) {
		outcome = OutcomeSuccess
		classification = Helpful
	}

	reflection := &Reflection{Outcome: outcome}
	for _, id := range output.StrategyIDs {
		reflection.Feedback = append(reflection.Feedback, StrategyFeedback{
			BulletID:       id,
			Classification: classification,
			Rationale:      string(outcome),
		})
	}
	return reflection, nil
}
