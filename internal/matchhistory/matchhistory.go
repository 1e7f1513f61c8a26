// Package matchhistory implements the supplemented append-only audit
// trail of each job's cache/registry resolution outcome: what a job
// matched against, at what confidence, recorded once per job so the
// resolution path that produced a VerificationResult stays inspectable
// after the fact.
package matchhistory

import (
	"context"

	"github.com/ttbverify/labelverify/pkg/models"
)

// Store is the append-only match history contract.
type Store interface {
	Append(ctx context.Context, entry *models.MatchHistory) error
	ListForJob(ctx context.Context, jobID string) ([]models.MatchHistory, error)
}
