package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type InsightCategory string

const (
	CategoryComplaint      InsightCategory = "complaint"
	CategoryFeatureRequest InsightCategory = "featureRequest"
	CategoryPraise         InsightCategory = "praise"
	CategoryOther          InsightCategory = "other"
)

// Valid reports whether c is one of the known categories.
func (c InsightCategory) Valid() bool {
	switch c {
	case CategoryComplaint, CategoryFeatureRequest, CategoryPraise, CategoryOther:
		return true
	}
	return false
}

// Insight is a distinct theme extracted from the documents of one environment.
// Vector is the embedding of InsightVectorText(Title, Description) and is
// written once, when the insight is created.
type Insight struct {
	ID            string          `json:"id" gorm:"type:char(27);primaryKey"`
	EnvironmentID string          `json:"environment_id" gorm:"type:varchar(64);not null;index"`
	Title         string          `json:"title" gorm:"type:text;not null"`
	Description   string          `json:"description" gorm:"type:text;not null"`
	Category      InsightCategory `json:"category" gorm:"type:varchar(32);not null;index"`
	Vector        pgvector.Vector `json:"-" gorm:"type:vector(1536);not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (i *Insight) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = ksuid.New().String()
	}
	return nil
}

// DocumentInsight records that a document contributed to an insight.
type DocumentInsight struct {
	DocumentID string    `json:"document_id" gorm:"type:char(27);primaryKey"`
	InsightID  string    `json:"insight_id" gorm:"type:char(27);primaryKey;index"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE"`
	Insight  *Insight  `json:"-" gorm:"foreignKey:InsightID;references:ID;constraint:OnDelete:CASCADE"`
}

func (DocumentInsight) TableName() string {
	return "document_insights"
}

// Candidate is an insight proposed by extraction that has not yet been
// reconciled with the environment's existing insights.
type Candidate struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    InsightCategory `json:"category"`
}

// Validate checks the candidate fields.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: insight title is empty", ErrInvalidInput)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("%w: unknown insight category %q", ErrInvalidInput, c.Category)
	}
	return nil
}

// NearestInsight is an insight returned by a nearest-neighbour lookup
// together with its cosine distance to the query vector.
type NearestInsight struct {
	Insight
	Distance float64 `json:"distance"`
}

// InsightSummary is an insight as shown in listings.
type InsightSummary struct {
	Insight
	DocumentCount int64 `json:"document_count"`
}

// InsightVectorText is the text embedded for an insight. The write path and
// any comparison path must both go through it.
func InsightVectorText(title, description string) string {
	return title + ": " + description
}
