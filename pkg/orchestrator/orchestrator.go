// Package orchestrator bridges a live agent run with the playbook:
// it renders top strategies into an instruction block before the call
// and converts the run's outcome into TAG deltas afterward.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/XiaoConstantine/ace-go/pkg/logging"
	"github.com/XiaoConstantine/ace-go/pkg/playbook"
)

// citationPattern matches explicit strategy citations in agent output.
var citationPattern = regexp.MustCompile(`\[ACE:([a-zA-Z0-9_.-]+)\]`)

// ContextBlock is a rendered instruction appendix plus the bullets it
// references, so feedback can be attributed even when the agent's final
// output omits explicit citations.
type ContextBlock struct {
	Instructions string
	BulletIDs    []string
}

// Orchestrator enriches agent prompts with playbook context and
// captures post-hoc feedback.
type Orchestrator struct {
	store         *playbook.Store
	maxStrategies int
	appliedBy     string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxStrategies bounds the number of strategies injected per run.
func WithMaxStrategies(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxStrategies = n
		}
	}
}

// WithAppliedBy overrides the audit attribution for feedback batches.
func WithAppliedBy(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.appliedBy = name
		}
	}
}

// New creates an orchestrator over the given store.
func New(store *playbook.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		maxStrategies: 5,
		appliedBy:     "orchestrator",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BuildContextBlock renders the top strategies into an instruction
// appendix. Returns nil when the playbook has no bullets.
func (o *Orchestrator) BuildContextBlock(ctx context.Context) (*ContextBlock, error) {
	bullets, err := o.store.TopStrategies(ctx, o.maxStrategies)
	if err != nil {
		return nil, err
	}
	if len(bullets) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Strategy Playbook:\n")
	sb.WriteString("When you leverage a strategy, cite it as [ACE:<strategy_id>] so reflections can track usage.\n")

	ids := make([]string, 0, len(bullets))
	for _, bullet := range bullets {
		fmt.Fprintf(&sb, "- [ACE:%s] (%s) %s\n", bullet.BulletID, bullet.SectionDisplayName, strings.TrimSpace(bullet.Content))
		ids = append(ids, bullet.BulletID)
	}

	return &ContextBlock{
		Instructions: strings.TrimRight(sb.String(), "\n"),
		BulletIDs:    ids,
	}, nil
}

// MergeInstructions appends the context block to base instructions.
func (o *Orchestrator) MergeInstructions(base string, block *ContextBlock) string {
	if block == nil {
		return base
	}
	if base == "" {
		return block.Instructions
	}
	return base + "\n\n" + block.Instructions
}

// ExtractCitations returns the bullet IDs explicitly cited in agent
// output, in first-mention order, deduplicated.
func ExtractCitations(text string) []string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// RecordFeedback attributes a run's outcome to the strategies it used:
// explicit [ACE:...] citations in runOutput win; when none are present
// the bullets injected before the call are credited instead. It commits
// one TAG batch and returns the revision, or nil when there is nothing
// to attribute.
func (o *Orchestrator) RecordFeedback(ctx context.Context, runOutput string, injected []string, success bool, reason string) (*playbook.Revision, error) {
	ids := ExtractCitations(runOutput)
	if len(ids) == 0 {
		seen := make(map[string]bool, len(injected))
		for _, id := range injected {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ops := make([]playbook.DeltaOperation, 0, len(ids))
	for _, id := range ids {
		if success {
			ops = append(ops, playbook.TagHelpful(id, 1))
		} else {
			ops = append(ops, playbook.TagHarmful(id, 1))
		}
	}

	description := reason
	if description == "" {
		if success {
			description = "live run success"
		} else {
			description = "live run remediation"
		}
	}

	revision, err := o.store.ApplyDelta(ctx, ops, playbook.ApplyOptions{
		AppliedBy:   o.appliedBy,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	logging.GetLogger().Debug(ctx, "recorded feedback for %d strategies (success=%v, revision=%s)",
		len(ids), success, revision.ID)
	return revision, nil
}
