package playbook

import (
	"github.com/XiaoConstantine/ace-go/pkg/errors"
)

// DeltaAction identifies the kind of a delta operation.
type DeltaAction string

const (
	ActionAdd    DeltaAction = "ADD"
	ActionUpdate DeltaAction = "UPDATE"
	ActionTag    DeltaAction = "TAG"
	ActionRemove DeltaAction = "REMOVE"
)

const maxBulletIDLen = 128

// DeltaOperation is a normalized mutation request for a single bullet.
//
// ADD upserts a bullet (creating its section if needed); the counter
// deltas act as initial counter values. UPDATE patches content,
// section, or metadata of an existing bullet. TAG adjusts counters by
// the signed deltas. REMOVE deletes an existing bullet.
type DeltaOperation struct {
	Action             DeltaAction    `json:"op"`
	BulletID           string         `json:"bullet_id"`
	Section            string         `json:"section,omitempty"`
	SectionDisplayName string         `json:"section_display_name,omitempty"`
	Content            string         `json:"content,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	HelpfulDelta       int            `json:"helpful_delta,omitempty"`
	HarmfulDelta       int            `json:"harmful_delta,omitempty"`
}

// Add builds an upsert operation for a bullet in the given section.
func Add(bulletID, section, content string) DeltaOperation {
	return DeltaOperation{Action: ActionAdd, BulletID: bulletID, Section: section, Content: content}
}

// TagHelpful builds a TAG operation adjusting the helpful counter.
func TagHelpful(bulletID string, amount int) DeltaOperation {
	return DeltaOperation{Action: ActionTag, BulletID: bulletID, HelpfulDelta: amount}
}

// TagHarmful builds a TAG operation adjusting the harmful counter.
func TagHarmful(bulletID string, amount int) DeltaOperation {
	return DeltaOperation{Action: ActionTag, BulletID: bulletID, HarmfulDelta: amount}
}

// Remove builds a delete operation for an existing bullet.
func Remove(bulletID string) DeltaOperation {
	return DeltaOperation{Action: ActionRemove, BulletID: bulletID}
}

// Validate shape-checks a single operation. It performs no store
// access; reference resolution happens inside the apply transaction.
func (op *DeltaOperation) Validate() error {
	if op.BulletID == "" {
		return errors.New(errors.ValidationFailed, "operation requires bullet_id")
	}
	if len(op.BulletID) > maxBulletIDLen {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "bullet_id exceeds maximum length"),
			errors.Fields{"bullet_id": op.BulletID, "max": maxBulletIDLen},
		)
	}

	switch op.Action {
	case ActionAdd:
		if op.Section == "" {
			return errors.New(errors.ValidationFailed, "ADD operations require section")
		}
		if op.Content == "" {
			return errors.New(errors.ValidationFailed, "ADD operations require content")
		}
		if op.HelpfulDelta < 0 || op.HarmfulDelta < 0 {
			return errors.New(errors.ValidationFailed, "ADD counter values must be non-negative")
		}
	case ActionUpdate:
		if op.Content == "" && op.Section == "" && op.Metadata == nil {
			return errors.New(errors.ValidationFailed, "UPDATE operations must include content, metadata, or section updates")
		}
	case ActionTag:
		if op.HelpfulDelta == 0 && op.HarmfulDelta == 0 {
			return errors.New(errors.ValidationFailed, "TAG operations must include helpful_delta or harmful_delta")
		}
	case ActionRemove:
		// Only the bullet reference is required.
	default:
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "unknown delta action"),
			errors.Fields{"action": string(op.Action)},
		)
	}
	return nil
}

// ValidateBatch shape-checks every operation before any store access,
// reporting the index of the first invalid one.
func ValidateBatch(ops []DeltaOperation) error {
	if len(ops) == 0 {
		return errors.New(errors.ValidationFailed, "delta batch is empty")
	}
	for i := range ops {
		if err := ops[i].Validate(); err != nil {
			return errors.WithFields(err, errors.Fields{
				"op_index":  i,
				"bullet_id": ops[i].BulletID,
			})
		}
	}
	return nil
}

// Aggregate merges TAG operations targeting the same bullet into a
// single numeric adjustment, summing helpful and harmful deltas
// separately, so the store can apply one atomic increment per bullet
// instead of N read-modify-writes. The merged TAG keeps the position of
// the first TAG for that bullet; ADD/UPDATE/REMOVE keep submission
// order. The input slice is not modified.
func Aggregate(ops []DeltaOperation) []DeltaOperation {
	merged := make([]DeltaOperation, 0, len(ops))
	tagIndex := make(map[string]int)

	for _, op := range ops {
		if op.Action != ActionTag {
			merged = append(merged, op)
			continue
		}
		if i, ok := tagIndex[op.BulletID]; ok {
			merged[i].HelpfulDelta += op.HelpfulDelta
			merged[i].HarmfulDelta += op.HarmfulDelta
			continue
		}
		tagIndex[op.BulletID] = len(merged)
		merged = append(merged, op)
	}

	return merged
}
