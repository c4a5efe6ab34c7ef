package allocation

import "context"

// DefaultListLimit and MaxListLimit bound Store.List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Store is the persistence interface for allocation runs.
type Store interface {
	Get(ctx context.Context, id string) (*Run, bool, error)
	Put(ctx context.Context, run *Run) error
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]*Run, error)
}
