package workflow

import (
	"fmt"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

// Policy decides whether a version may move from one status to another.
type Policy interface {
	Allow(from, to models.WorkflowStatus) error
}

// OpenPolicy allows every transition, including leaving REVOKED.
type OpenPolicy struct{}

func (OpenPolicy) Allow(models.WorkflowStatus, models.WorkflowStatus) error { return nil }

// TablePolicy allows only the listed transitions.
type TablePolicy map[models.WorkflowStatus][]models.WorkflowStatus

func (p TablePolicy) Allow(from, to models.WorkflowStatus) error {
	for _, s := range p[from] {
		if s == to {
			return nil
		}
	}
	return models.NewValidationError("state", fmt.Sprintf("transition %s -> %s is not allowed", from, to))
}

// StrictPolicy makes revocation terminal.
func StrictPolicy() TablePolicy {
	return TablePolicy{
		models.StatusPending:  {models.StatusPending, models.StatusApproved, models.StatusRevoked},
		models.StatusApproved: {models.StatusPending, models.StatusApproved, models.StatusRevoked},
		models.StatusRevoked:  {models.StatusRevoked},
	}
}

// PolicyFor maps the workflow.strict setting onto a policy.
func PolicyFor(strict bool) Policy {
	if strict {
		return StrictPolicy()
	}
	return OpenPolicy{}
}
