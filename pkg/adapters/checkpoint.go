package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
)

// checkpoint records offline progress: the epoch being processed and
// the index of the next unprocessed training task within it. It is
// written only after a batch has been committed, so a restarted run
// re-does at most nothing and skips everything already persisted.
type checkpoint struct {
	Epoch    int `json:"epoch"`
	NextTask int `json:"next_task"`
}

func loadCheckpoint(path string) (checkpoint, error) {
	var cp checkpoint
	if path == "" {
		return cp, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return cp, errors.Wrap(err, errors.Unknown, "failed to read checkpoint")
	}

	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint{}, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "checkpoint file is unreadable"),
			errors.Fields{"path": path},
		)
	}
	return cp, nil
}

func saveCheckpoint(path string, cp checkpoint) error {
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to create checkpoint directory")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to encode checkpoint")
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to write checkpoint")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.Unknown, "failed to replace checkpoint")
	}
	return nil
}
