// Package authz resolves what an authenticated caller may do.
package authz

import "journal-review-api/models"

// Capability names one guarded operation.
type Capability string

const (
	SubmitReview       Capability = "review:submit"
	UpdateReviewStatus Capability = "review:update_status"
	ListOwnReviews     Capability = "review:list_own"
	AssignReviewer     Capability = "review:assign"
	ViewReviewHistory  Capability = "review:history"
)

var roleCapabilities = map[models.Role][]Capability{
	models.RoleReviewer: {SubmitReview, UpdateReviewStatus, ListOwnReviews},
	models.RoleEditor:   {AssignReviewer, ViewReviewHistory},
	models.RoleAdmin:    {SubmitReview, UpdateReviewStatus, ListOwnReviews, AssignReviewer, ViewReviewHistory},
}

// Principal is the caller of a workflow operation.
type Principal struct {
	UserID string
	Email  string
	Role   models.Role
}

// System is the principal used by background jobs and the CLI.
var System = Principal{Role: models.RoleAdmin}

// Can reports whether the principal's role grants capability.
func (p Principal) Can(capability Capability) bool {
	for _, granted := range roleCapabilities[p.Role] {
		if granted == capability {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal bypasses ownership checks.
func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// IsSystem reports whether the principal is not backed by a user.
func (p Principal) IsSystem() bool {
	return p.UserID == ""
}

// Owns reports whether the principal may act on a record held by userID.
func (p Principal) Owns(userID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == userID)
}

// ActorID returns the user id to record in audit entries, or nil for the
// system principal.
func (p Principal) ActorID() *string {
	if p.IsSystem() {
		return nil
	}
	id := p.UserID
	return &id
}
