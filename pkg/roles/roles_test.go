package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XiaoConstantine/ace-go/pkg/playbook"
)

func TestVerdictSuccess(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		want    bool
	}{
		{"success true", Verdict{"success": true}, true},
		{"success false", Verdict{"success": false}, false},
		{"correct true", Verdict{"correct": true}, true},
		{"success wins over score", Verdict{"success": false, "score": 1.0}, false},
		{"float score above threshold", Verdict{"score": 0.75}, true},
		{"float score below threshold", Verdict{"score": 0.25}, false},
		{"int score", Verdict{"score": 1}, true},
		{"int score zero", Verdict{"score": 0}, false},
		{"empty verdict", Verdict{}, false},
		{"nil verdict", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerdictSuccess(tt.verdict))
		})
	}
}

func TestTagCurator(t *testing.T) {
	curator := NewTagCurator()

	t.Run("maps classifications to tags", func(t *testing.T) {
		ops, err := curator.Curate(&Reflection{
			Outcome: OutcomePartial,
			Feedback: []StrategyFeedback{
				{BulletID: "b1", Classification: Helpful},
				{BulletID: "b2", Classification: Harmful},
				{BulletID: "b3", Classification: Neutral},
			},
		})
		require.NoError(t, err)
		require.Len(t, ops, 2)

		assert.Equal(t, playbook.ActionTag, ops[0].Action)
		assert.Equal(t, "b1", ops[0].BulletID)
		assert.Equal(t, 1, ops[0].HelpfulDelta)
		assert.Equal(t, 0, ops[0].HarmfulDelta)

		assert.Equal(t, "b2", ops[1].BulletID)
		assert.Equal(t, 1, ops[1].HarmfulDelta)
	})

	t.Run("merges repeated bullets", func(t *testing.T) {
		ops, err := curator.Curate(&Reflection{
			Feedback: []StrategyFeedback{
				{BulletID: "b1", Classification: Helpful},
				{BulletID: "b1", Classification: Helpful},
				{BulletID: "b1", Classification: Harmful},
			},
		})
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, 2, ops[0].HelpfulDelta)
		assert.Equal(t, 1, ops[0].HarmfulDelta)
	})

	t.Run("nil reflection yields nothing", func(t *testing.T) {
		ops, err := curator.Curate(nil)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("all neutral yields nothing", func(t *testing.T) {
		ops, err := curator.Curate(&Reflection{
			Feedback: []StrategyFeedback{{BulletID: "b1", Classification: Neutral}},
		})
		require.NoError(t, err)
		assert.Empty(t, ops)
	})
}

func TestStaticGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("returns fixed answer", func(t *testing.T) {
		gen := &StaticGenerator{Answer: "42", StrategyIDs: []string{"b1"}}
		output, err := gen.Run(ctx, Task{Question: "?"}, "")
		require.NoError(t, err)
		assert.Equal(t, "42", output.FinalAnswer)
		assert.Equal(t, []string{"b1"}, output.StrategyIDs)
	})

	t.Run("nil strategies become empty slice", func(t *testing.T) {
		gen := &StaticGenerator{Answer: "42"}
		output, err := gen.Run(ctx, Task{}, "")
		require.NoError(t, err)
		assert.NotNil(t, output.StrategyIDs)
		assert.Empty(t, output.StrategyIDs)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := (&StaticGenerator{}).Run(cancelled, Task{}, "")
		assert.Error(t, err)
	})
}

func TestExactMatchEvaluator(t *testing.T) {
	ctx := context.Background()
	evaluator := &ExactMatchEvaluator{}

	t.Run("match ignores case and whitespace", func(t *testing.T) {
		verdict, err := evaluator.Evaluate(ctx,
			Task{Expected: "Paris"},
			&GeneratorOutput{FinalAnswer: "  paris "})
		require.NoError(t, err)
		assert.True(t, VerdictSuccess(verdict))
	})

	t.Run("mismatch", func(t *testing.T) {
		verdict, err := evaluator.Evaluate(ctx,
			Task{Expected: "Paris"},
			&GeneratorOutput{FinalAnswer: "London"})
		require.NoError(t, err)
		assert.False(t, VerdictSuccess(verdict))
		assert.Equal(t, "Paris", verdict["expected"])
	})

	t.Run("empty expected never succeeds", func(t *testing.T) {
		verdict, err := evaluator.Evaluate(ctx, Task{}, &GeneratorOutput{FinalAnswer: ""})
		require.NoError(t, err)
		assert.False(t, VerdictSuccess(verdict))
	})

	t.Run("nil output is an error", func(t *testing.T) {
		_, err := evaluator.Evaluate(ctx, Task{}, nil)
		assert.Error(t, err)
	})
}

func TestOutcomeReflector(t *testing.T) {
	ctx := context.Background()
	reflector := &OutcomeReflector{}

	t.Run("success marks cited strategies helpful", func(t *testing.T) {
		reflection, err := reflector.Evaluate(ctx, Task{},
			&GeneratorOutput{StrategyIDs: []string{"b1", "b2"}},
			Verdict{"success": true})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSuccess, reflection.Outcome)
		require.Len(t, reflection.Feedback, 2)
		for _, fb := range reflection.Feedback {
			assert.Equal(t, Helpful, fb.Classification)
		}
	})

	t.Run("failure marks cited strategies harmful", func(t *testing.T) {
		reflection, err := reflector.Evaluate(ctx, Task{},
			&GeneratorOutput{StrategyIDs: []string{"b1"}},
			Verdict{"success": false})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailure, reflection.Outcome)
		require.Len(t, reflection.Feedback, 1)
		assert.Equal(t, Harmful, reflection.Feedback[0].Classification)
	})

	t.Run("no citations yields no feedback", func(t *testing.T) {
		reflection, err := reflector.Evaluate(ctx, Task{},
			&GeneratorOutput{}, Verdict{"success": true})
		require.NoError(t, err)
		assert.Empty(t, reflection.Feedback)
	})
}
