package models

import (
	"encoding/json"
	"time"
)

// History action tags.
const (
	ActionReviewCompleted       = "review_completed"
	ActionAutoAssignedNextRound = "auto_assigned_next_round"
	ActionNoAvailableReviewers  = "no_available_reviewers"
	ActionReviewerAssigned      = "reviewer_assigned"
	actionStatusChangedPrefix   = "status_changed_to_"
)

// ActionStatusChanged returns the tag for a direct status update.
func ActionStatusChanged(status ReviewStatus) string {
	return actionStatusChangedPrefix + string(status)
}

// ReviewHistory is an append-only audit record of the review process of an
// article. ReviewerID and ActorID are nil for system actions.
type ReviewHistory struct {
	ID         uint            `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	ArticleID  string          `gorm:"column:article_id;type:varchar(36);index" json:"articleId"`
	ReviewerID *string         `gorm:"column:reviewer_id;type:varchar(36)" json:"reviewerId"`
	ActorID    *string         `gorm:"column:actor_id;type:varchar(36)" json:"actorId"`
	Action     string          `gorm:"column:action;type:varchar(64)" json:"action"`
	Comments   string          `gorm:"column:comments;type:text" json:"comments"`
	Metadata   json.RawMessage `gorm:"column:metadata;type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at;index" json:"createdAt"`
}

func (ReviewHistory) TableName() string {
	return "review_histories"
}

// All lists every model managed by the migration command.
func All() []interface{} {
	return []interface{}{&User{}, &Article{}, &Review{}, &ReviewHistory{}}
}
