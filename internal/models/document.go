package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// Document is one analysed piece of free text, usually the answer to an
// open question of a survey response. It belongs to exactly one environment.
type Document struct {
	ID            string           `json:"id" gorm:"type:char(27);primaryKey"`
	EnvironmentID string           `json:"environment_id" gorm:"type:varchar(64);not null;index"`
	SurveyID      string           `json:"survey_id,omitempty" gorm:"type:varchar(64);index"`
	QuestionID    string           `json:"question_id,omitempty" gorm:"type:varchar(64)"`
	ResponseID    string           `json:"response_id,omitempty" gorm:"type:varchar(64);index"`
	ReferenceID   string           `json:"reference_id,omitempty" gorm:"type:varchar(140);index"`
	Text          string           `json:"text" gorm:"type:text;not null"`
	Sentiment     Sentiment        `json:"sentiment,omitempty" gorm:"type:varchar(20);index"`
	Status        ProcessingStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Error         string           `json:"error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}

type DocumentCreate struct {
	SurveyID   string `json:"survey_id"`
	QuestionID string `json:"question_id"`
	ResponseID string `json:"response_id"`
	Text       string `json:"text"`
}

// QuestionResponseReferenceID identifies the survey question a document answers.
func QuestionResponseReferenceID(surveyID, questionID string) string {
	return surveyID + "-" + questionID
}
