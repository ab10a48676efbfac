// Package adapters drives full Generator→Environment→Reflector→Curator
// adaptation cycles against the playbook store: Offline replays batched
// datasets with checkpointing, Online processes one live event at a
// time. Role failures abort only the current task or event; the
// playbook is mutated exclusively through complete, valid delta
// batches.
package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/XiaoConstantine/ace-go/pkg/playbook"
)

// strategyContext renders the current top strategies into the text
// block handed to the Generator, and returns the included bullet IDs.
func strategyContext(ctx context.Context, store *playbook.Store, limit int) (string, []string, error) {
	bullets, err := store.TopStrategies(ctx, limit)
	if err != nil {
		return "", nil, err
	}
	if len(bullets) == 0 {
		return "", nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Playbook strategies (cite by ID when used):\n")
	ids := make([]string, 0, len(bullets))
	for _, bullet := range bullets {
		fmt.Fprintf(&sb, "[%s] %s\n", bullet.BulletID, strings.TrimSpace(bullet.Content))
		ids = append(ids, bullet.BulletID)
	}
	return sb.String(), ids, nil
}
