package models

import (
	"strings"
	"time"
)

// ReviewStatus is the state of one reviewer's assignment.
//
// assigned -> in_progress -> completed | declined
type ReviewStatus string

const (
	ReviewAssigned   ReviewStatus = "assigned"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewCompleted  ReviewStatus = "completed"
	ReviewDeclined   ReviewStatus = "declined"
)

// ParseReviewStatus accepts the known statuses; "pending" is an alias of
// assigned.
func ParseReviewStatus(raw string) (ReviewStatus, bool) {
	switch status := ReviewStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case ReviewAssigned, ReviewInProgress, ReviewCompleted, ReviewDeclined:
		return status, true
	case "pending":
		return ReviewAssigned, true
	default:
		return "", false
	}
}

// Open reports whether the review still awaits the reviewer.
func (s ReviewStatus) Open() bool {
	return s == ReviewAssigned || s == ReviewInProgress
}

// Recommendation is a reviewer's verdict.
type Recommendation string

const (
	RecommendAccept        Recommendation = "accept"
	RecommendMinorRevision Recommendation = "minor_revision"
	RecommendMajorRevision Recommendation = "major_revision"
	RecommendReject        Recommendation = "reject"
)

// ParseRecommendation accepts the four verdicts, including the plural
// spellings minor_revisions and major_revisions.
func ParseRecommendation(raw string) (Recommendation, bool) {
	switch rec := Recommendation(strings.ToLower(strings.TrimSpace(raw))); rec {
	case RecommendAccept, RecommendMinorRevision, RecommendMajorRevision, RecommendReject:
		return rec, true
	case "minor_revisions":
		return RecommendMinorRevision, true
	case "major_revisions":
		return RecommendMajorRevision, true
	default:
		return "", false
	}
}

// Review is one reviewer's assignment to one article for one round.
type Review struct {
	ID                   string         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ArticleID            string         `gorm:"column:article_id;type:varchar(36);index;uniqueIndex:idx_reviews_article_reviewer,priority:1" json:"articleId"`
	ReviewerID           string         `gorm:"column:reviewer_id;type:varchar(36);index;uniqueIndex:idx_reviews_article_reviewer,priority:2" json:"reviewerId"`
	ReviewRound          int            `gorm:"column:review_round;default:1" json:"reviewRound"`
	Status               ReviewStatus   `gorm:"column:status;type:varchar(32);index" json:"status"`
	Score                *int           `gorm:"column:score" json:"score"`
	Recommendation       Recommendation `gorm:"column:recommendation;type:varchar(32)" json:"recommendation,omitempty"`
	Comments             *string        `gorm:"column:comments;type:text" json:"comments"`
	ConfidentialComments *string        `gorm:"column:confidential_comments;type:text" json:"confidentialComments"`
	SubmittedAt          *time.Time     `gorm:"column:submitted_at" json:"submittedAt"`
	Deadline             *time.Time     `gorm:"column:deadline" json:"deadline"`
	CreatedAt            time.Time      `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt            time.Time      `gorm:"column:updated_at" json:"updatedAt"`

	Article  *Article `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Reviewer *User    `gorm:"foreignKey:ReviewerID" json:"reviewer,omitempty"`
}

func (Review) TableName() string {
	return "reviews"
}

// Overdue reports whether an open review is past its deadline at now.
func (r *Review) Overdue(now time.Time) bool {
	return r.Status.Open() && r.Deadline != nil && r.Deadline.Before(now)
}
