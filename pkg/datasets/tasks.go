// Package datasets loads adaptation tasks from local JSON and Parquet
// files.
package datasets

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/XiaoConstantine/ace-go/pkg/errors"
	"github.com/XiaoConstantine/ace-go/pkg/roles"
)

// taskRecord is the JSON file shape for a single task.
type taskRecord struct {
	ID       string         `json:"id,omitempty"`
	Question string         `json:"question"`
	Context  string         `json:"context,omitempty"`
	Expected string         `json:"expected,omitempty"`
	Answer   string         `json:"answer,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// LoadJSON reads tasks from a JSON array file. Each element needs a
// "question"; "expected" (or "answer") and "context" are optional.
// Missing IDs are filled with the element's position.
func LoadJSON(path string) ([]roles.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read task file"),
			errors.Fields{"path": path})
	}

	var records []taskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse task file"),
			errors.Fields{"path": path})
	}

	tasks := make([]roles.Task, 0, len(records))
	for i, rec := range records {
		if rec.Question == "" {
			return nil, errors.WithFields(
				errors.New(errors.ValidationFailed, "task is missing a question"),
				errors.Fields{"path": path, "index": i})
		}
		expected := rec.Expected
		if expected == "" {
			expected = rec.Answer
		}
		id := rec.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i)
		}
		tasks = append(tasks, roles.Task{
			ID:       id,
			Question: rec.Question,
			Context:  rec.Context,
			Expected: expected,
			Metadata: rec.Metadata,
		})
	}
	return tasks, nil
}
