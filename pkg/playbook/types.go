// Package playbook implements the mutable, auditable strategy playbook
// that adaptation cycles cite and learn from: sections of strategy
// bullets with helpful/harmful counters, atomic delta application, and
// an immutable revision trail with rollback.
package playbook

import (
	"time"
)

// Section is a named grouping of strategy bullets. Sections are created
// implicitly by the first ADD referencing them and are never deleted
// automatically when their last bullet is removed.
type Section struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description,omitempty"`
	Ordering    int            `json:"ordering"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Bullets     []Bullet       `json:"bullets,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Bullet is a single strategy entry in the playbook.
type Bullet struct {
	BulletID           string         `json:"bullet_id"`
	Content            string         `json:"content"`
	Section            string         `json:"section"`
	SectionDisplayName string         `json:"section_display_name,omitempty"`
	HelpfulCount       int            `json:"helpful_count"`
	HarmfulCount       int            `json:"harmful_count"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Score returns the ranking score used by TopStrategies.
func (b *Bullet) Score() int {
	return b.HelpfulCount - b.HarmfulCount
}

// TotalUses returns the total number of times this bullet has been tagged.
func (b *Bullet) TotalUses() int {
	return b.HelpfulCount + b.HarmfulCount
}

// SuccessRate returns the ratio of helpful to total tags.
func (b *Bullet) SuccessRate() float64 {
	total := b.TotalUses()
	if total == 0 {
		return 0.5
	}
	return float64(b.HelpfulCount) / float64(total)
}

// Revision is an immutable audit record of one committed delta batch.
// Operations holds the exact list as originally submitted, before TAG
// aggregation. Revisions are never mutated or deleted; rolling one back
// produces a new forward-pointing revision.
type Revision struct {
	ID          string           `json:"id"`
	Operations  []DeltaOperation `json:"operations"`
	AppliedBy   string           `json:"applied_by,omitempty"`
	Description string           `json:"description,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// MetaRollsBack is the revision metadata key pointing at the revision a
// rollback batch reverts.
const MetaRollsBack = "rolls_back"
