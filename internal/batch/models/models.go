// Package models holds the batch ingestion types shared by the queue store,
// the coordinator and the worker.
package models

import "time"

// Row is one queued batch item. A row is deleted once it has been issued
// and submitted; a failed row keeps its ErrorMessage and is never picked up
// again.
type Row struct {
	EntityID     string         `json:"entityId"`
	BatchID      string         `json:"batchId"`
	RowID        int            `json:"rowId"`
	DocType      string         `json:"type"`
	Fields       map[string]any `json:"fields"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Failed reports whether the row was annotated by a previous run.
func (r Row) Failed() bool {
	return r.ErrorMessage != ""
}

// UploadRequest carries parsed rows for one batch. BatchID is generated when
// empty.
type UploadRequest struct {
	EntityID string           `json:"-" validate:"required"`
	BatchID  string           `json:"batchId,omitempty" validate:"max=128"`
	DocType  string           `json:"type" validate:"notblank,max=128"`
	FileName string           `json:"fileName" validate:"max=255"`
	Rows     []map[string]any `json:"rows" validate:"min=1,max=10000"`
}

// Accepted acknowledges a queued batch. Processing continues in the
// background.
type Accepted struct {
	BatchID    string `json:"batchId"`
	QueuedRows int    `json:"queuedRows"`
	Status     string `json:"status"`
}

// FailedRow is a row that could not be issued or submitted.
type FailedRow struct {
	RowID int    `json:"rowId"`
	Error string `json:"error"`
}

// Report summarizes one batch run. It is written once, when the run ends,
// whether the run completed or was halted.
type Report struct {
	EntityID             string      `json:"entityId"`
	BatchID              string      `json:"batchId"`
	RowCount             int         `json:"rowCount"`
	SuccessCount         int         `json:"successCount"`
	FailureCount         int         `json:"failureCount"`
	FailedRows           []FailedRow `json:"failedRows"`
	BatchFailureMessages []string    `json:"batchFailureMessages"`
	SubmittedTimestamp   time.Time   `json:"submittedTimestamp"`
	FileName             string      `json:"fileName"`
}

// Halted reports whether the run stopped before reaching every row.
func (r *Report) Halted() bool {
	return len(r.BatchFailureMessages) > 0
}

// Batch statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusHalted     = "halted"
)

// Status answers a batch status query.
type Status struct {
	BatchID string  `json:"batchId"`
	Status  string  `json:"status"`
	Report  *Report `json:"report,omitempty"`
}

// Job asks the worker to drain one batch.
type Job struct {
	EntityID    string
	BatchID     string
	DocType     string
	FileName    string
	RowCount    int
	SubmittedAt time.Time
}
