// Package jobstore implements C4: typed job CRUD with a single-row
// compare-and-set update for state transitions, so double-delivery
// from the queue can never advance a job past its expected state more
// than once.
package jobstore

import (
	"context"
	"errors"

	"github.com/ttbverify/labelverify/pkg/models"
)

// ErrNotFound is returned when a job ID has no row.
var ErrNotFound = errors.New("jobstore: not found")

// ErrCASFailed is returned when TransitionState's expected "from"
// state didn't match the row's current state — another claimant
// already moved it, or it's not in a state this transition expects.
var ErrCASFailed = errors.New("jobstore: compare-and-set failed")

// Store is the C4 contract.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	// TransitionState performs `UPDATE ... SET state = to WHERE id = id
	// AND state = from`, applying mutate to the in-memory row before
	// persisting the rest of its fields in the same statement. Returns
	// ErrCASFailed if no row matched (current state != from).
	TransitionState(ctx context.Context, id string, from, to models.JobState, mutate func(*models.Job)) error
	Ping(ctx context.Context) error
}
