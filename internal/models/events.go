package models

import (
	"time"

	"github.com/google/uuid"
)

type InvalidationKind string

const (
	InvalidationCreated  InvalidationKind = "created"
	InvalidationMerged   InvalidationKind = "merged"
	InvalidationUnlinked InvalidationKind = "unlinked"

	// InvalidationDocument reports a document created or changing status or
	// sentiment. It carries no insight id.
	InvalidationDocument InvalidationKind = "document"
)

// InvalidationEvent tells read-side caches and subscribers that an insight
// or a document of an environment changed.
type InvalidationEvent struct {
	ID            string           `json:"id"`
	Kind          InvalidationKind `json:"kind"`
	EnvironmentID string           `json:"environment_id"`
	InsightID     string           `json:"insight_id,omitempty"`
	DocumentID    string           `json:"document_id,omitempty"`
	At            time.Time        `json:"at"`
}

func NewInvalidationEvent(kind InvalidationKind, environmentID, insightID, documentID string) InvalidationEvent {
	return InvalidationEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		EnvironmentID: environmentID,
		InsightID:     insightID,
		DocumentID:    documentID,
		At:            time.Now().UTC(),
	}
}

// NewDocumentEvent reports a document change that touches environment-wide
// reads (listings, stats) but no particular insight.
func NewDocumentEvent(environmentID, documentID string) InvalidationEvent {
	return NewInvalidationEvent(InvalidationDocument, environmentID, "", documentID)
}
