package meetings

import (
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/docstore"
)

const TaskCollection = "tasks"

// Tasks marks tasks linked to meetings as done.
type Tasks struct {
	docs docstore.Store
}

func NewTasks(docs docstore.Store) *Tasks { return &Tasks{docs: docs} }

func (t *Tasks) Complete(ctx context.Context, taskID string) error {
	err := t.docs.Update(ctx, docstore.Doc(TaskCollection, taskID), map[string]any{
		"completed": true,
		"updatedAt": docstore.ServerTimestamp(),
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}
