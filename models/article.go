package models

import "time"

// ArticleStatus is the editorial lifecycle state of a manuscript. The review
// workflow reads it but never changes it.
type ArticleStatus string

const (
	ArticleDraft             ArticleStatus = "draft"
	ArticleSubmitted         ArticleStatus = "submitted"
	ArticleUnderReview       ArticleStatus = "under_review"
	ArticleRevisionRequested ArticleStatus = "revision_requested"
	ArticleAccepted          ArticleStatus = "accepted"
	ArticleRejected          ArticleStatus = "rejected"
	ArticlePublished         ArticleStatus = "published"
)

// Article is a submitted manuscript.
type Article struct {
	ID        string        `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Title     string        `gorm:"column:title" json:"title"`
	Abstract  string        `gorm:"column:abstract;type:text" json:"abstract"`
	Authors   string        `gorm:"column:authors;type:text" json:"authors"`
	Category  string        `gorm:"column:category;type:varchar(64)" json:"category"`
	Status    ArticleStatus `gorm:"column:status;type:varchar(32);index" json:"status"`
	AuthorID  string        `gorm:"column:author_id;type:varchar(36);index" json:"authorId"`
	CreatedAt time.Time     `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"column:updated_at" json:"updatedAt"`

	Reviews []Review `gorm:"foreignKey:ArticleID" json:"reviews,omitempty"`
}

func (Article) TableName() string {
	return "articles"
}
