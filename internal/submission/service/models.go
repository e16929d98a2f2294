package service

import (
	"encoding/json"

	"healthcred/internal/credential/models"
)

// Submission summaries.
const (
	StatusProcessed    = "processed"
	StatusNotProcessed = "not_processed"
)

// Rejection messages.
const (
	MsgNoConsent     = "no valid consent receipt"
	MsgNoCredentials = "no valid credentials"
	MsgPersistFailed = "failed to persist submission"
)

// MetadataItemType tags the synthesized item appended to every persisted payload.
const MetadataItemType = "SubmissionMetadata"

// SubmitRequest references a holder's uploaded bundle.
type SubmitRequest struct {
	HolderID   string `json:"holderId" validate:"required"`
	DocumentID string `json:"documentId" validate:"required"`
}

// CredentialRequest submits one credential on a holder's behalf without a
// bundle or consent receipt, as batch issuance does.
type CredentialRequest struct {
	EntityID   string          `json:"entityId"`
	HolderID   string          `json:"holderId"`
	BatchID    string          `json:"batchId,omitempty"`
	Credential json.RawMessage `json:"credential"`
}

// Outcome is the result of one submission.
type Outcome struct {
	SubmissionID       string                     `json:"submissionId"`
	Status             string                     `json:"status"`
	State              State                      `json:"state"`
	Message            string                     `json:"message,omitempty"`
	FileName           string                     `json:"fileName,omitempty"`
	ValidCredentials   []map[string]any           `json:"validCredentials"`
	InvalidCredentials []models.InvalidCredential `json:"invalidCredentials"`
	Stats              []models.StatDoc           `json:"-"`
}

// Processed reports whether the submission was persisted.
func (o *Outcome) Processed() bool {
	return o.Status == StatusProcessed
}
