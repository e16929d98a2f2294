package audit

import "time"

// Event is emitted from pipeline logic to mark durable outcomes. It is
// transport-agnostic; the outbox publisher serializes it for Kafka.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entityId"`
	HolderID  string    `json:"holderId,omitempty"`
	Action    string    `json:"action"`
	// Reference is the submission id or batch id the event is about.
	Reference string `json:"reference,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Action names emitted by the pipeline.
const (
	ActionSubmissionPersisted = "submission_persisted"
	ActionSubmissionRejected  = "submission_rejected"
	ActionBatchCompleted      = "batch_completed"
	ActionBatchHalted         = "batch_halted"
	ActionBundleDeleted       = "bundle_deleted"
)

// AggregateType returns the outbox aggregate an action belongs to.
func AggregateType(action string) string {
	switch action {
	case ActionBatchCompleted, ActionBatchHalted:
		return "batch"
	case ActionBundleDeleted:
		return "bundle"
	default:
		return "submission"
	}
}
