package llm

import (
	"strings"
)

// PromptTemplate is a versioned prompt with %s-free named placeholders
// of the form {{name}}.
type PromptTemplate struct {
	Name    string
	Version string
	Content string
}

// Render substitutes {{key}} placeholders with the given values.
func (t PromptTemplate) Render(values map[string]string) string {
	rendered := t.Content
	for key, value := range values {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", value)
	}
	return rendered
}

var generatorPromptV1 = PromptTemplate{
	Name:    "generator-default",
	Version: "v1",
	Content: `You answer tasks using a playbook of learned strategies.

Strategies:
{{strategies}}

Task context:
{{context}}

Question:
{{question}}

Respond with a single JSON object:
{"final_answer": "...", "reasoning": "...", "strategy_ids": ["..."]}
strategy_ids must list the IDs of the playbook strategies you actually used, or [] if none.`,
}

var reflectorPromptV1 = PromptTemplate{
	Name:    "reflector-default",
	Version: "v1",
	Content: `You analyze how playbook strategies contributed to an answer.

Question:
{{question}}

Final answer:
{{final_answer}}

Cited strategy IDs: {{strategy_ids}}

Environment verdict:
{{verdict}}

Respond with a single JSON object:
{"outcome": "success"|"partial"|"failure", "insights": "...",
 "strategy_feedback": [{"bullet_id": "...", "classification": "helpful"|"harmful"|"neutral", "rationale": "..."}]}`,
}
