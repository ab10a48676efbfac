package roles

import (
	"github.com/XiaoConstantine/ace-go/pkg/playbook"
)

// TagCurator is the deterministic curator: helpful classifications
// become +1 helpful TAGs, harmful become +1 harmful TAGs, neutral ones
// produce nothing. Repeated classifications of the same bullet within
// one reflection merge into a single aggregated TAG operation.
type TagCurator struct{}

// NewTagCurator creates the default curator.
func NewTagCurator() *TagCurator {
	return &TagCurator{}
}

// Curate implements Curator.
func (c *TagCurator) Curate(reflection *Reflection) ([]playbook.DeltaOperation, error) {
	if reflection == nil {
		return nil, nil
	}

	var ops []playbook.DeltaOperation
	index := make(map[string]int)

	for _, fb := range reflection.Feedback {
		var helpful, harmful int
		switch fb.Classification {
		case Helpful:
			helpful = 1
		case Harmful:
			harmful = 1
		default:
			continue
		}

		if i, ok := index[fb.BulletID]; ok {
			ops[i].HelpfulDelta += helpful
			ops[i].HarmfulDelta += harmful
			continue
		}
		index[fb.BulletID] = len(ops)
		ops = append(ops, playbook.DeltaOperation{
			Action:       playbook.ActionTag,
			BulletID:     fb.BulletID,
			HelpfulDelta: helpful,
			HarmfulDelta: harmful,
		})
	}

	return ops, nil
}
