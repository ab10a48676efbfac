package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
)

// Generator is the model-backed generator role. Transport failures are
// surfaced as RoleFailed; a response that is not valid JSON degrades to
// the raw text as the final answer with no cited strategies, so a
// malformed completion never aborts the cycle by itself.
type Generator struct {
	client Client
	prompt PromptTemplate
}

// NewGenerator creates a model-backed generator.
func NewGenerator(client Client) *Generator {
	return &Generator{client: client, prompt: generatorPromptV1}
}

// Run implements roles.Generator.
func (g *Generator) Run(ctx context.Context, task roles.Task, contextBlock string) (*roles.GeneratorOutput, error) {
	strategies := contextBlock
	if strategies == "" {
		strategies = "No strategies supplied."
	}
	taskContext := task.Context
	if taskContext == "" {
		taskContext = "No extra context provided."
	}

	prompt := g.prompt.Render(map[string]string{
		"strategies": strategies,
		"context":    taskContext,
		"question":   task.Question,
	})

	response, err := g.client.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoleFailed, "generator invocation failed")
	}

	output := &roles.GeneratorOutput{
		FinalAnswer: response.Content,
		StrategyIDs: []string{},
		Model:       response.Model,
	}

	var parsed struct {
		FinalAnswer string   `json:"final_answer"`
		Reasoning   string   `json:"reasoning"`
		StrategyIDs []string `json:"strategy_ids"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response.Content)), &parsed); err == nil && parsed.FinalAnswer != "" {
		output.FinalAnswer = parsed.FinalAnswer
		output.Reasoning = parsed.Reasoning
		if parsed.StrategyIDs != nil {
			output.StrategyIDs = parsed.StrategyIDs
		}
	} else {
		logging.GetLogger().Debug(ctx, "generator output was not structured JSON, using raw text")
	}

	return output, nil
}

// Reflector is the model-backed reflector role. Like the generator, it
// degrades gracefully: an unparseable completion yields an outcome
// derived from the verdict with no per-strategy feedback.
type Reflector struct {
	client Client
	prompt PromptTemplate
}

// NewReflector creates a model-backed reflector.
func NewReflector(client Client) *Reflector {
	return &Reflector{client: client, prompt: reflectorPromptV1}
}

// Evaluate implements roles.Reflector.
func (r *Reflector) Evaluate(ctx context.Context, task roles.Task, output *roles.GeneratorOutput, verdict roles.Verdict) (*roles.Reflection, error) {
	if output == nil {
		return nil, errors.New(errors.RoleFailed, "reflector requires generator output")
	}

	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		verdictJSON = []byte("{}")
	}

	prompt := r.prompt.Render(map[string]string{
		"question":     task.Question,
		"final_answer": output.FinalAnswer,
		"strategy_ids": strings.Join(output.StrategyIDs, ", "),
		"verdict":      string(verdictJSON),
	})

	response, err := r.client.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoleFailed, "reflector invocation failed")
	}

	var parsed struct {
		Outcome  string                   `json:"outcome"`
		Insights string                   `json:"insights"`
		Feedback []roles.StrategyFeedback `json:"strategy_feedback"`
	}
	if err := json.Unmarshal([]byte(extractJSON(response.Content)), &parsed); err != nil || parsed.Outcome == "" {
		logging.GetLogger().Debug(ctx, "reflector output was not structured JSON, deriving outcome from verdict")
		outcome := roles.OutcomeFailure
		if roles.VerdictSuccess(verdict) {
			outcome = roles.OutcomeSuccess
		}
		return &roles.Reflection{Outcome: outcome}, nil
	}

	reflection := &roles.Reflection{
		Insights: parsed.Insights,
		Feedback: parsed.Feedback,
	}
	switch roles.Outcome(parsed.Outcome) {
	case roles.OutcomeSuccess, roles.OutcomePartial, roles.OutcomeFailure:
		reflection.Outcome = roles.Outcome(parsed.Outcome)
	default:
		reflection.Outcome = roles.OutcomeFailure
	}

	return reflection, nil
}

// extractJSON trims whatever surrounds the first top-level JSON object
// in a completion, tolerating fenced code blocks and leading prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
