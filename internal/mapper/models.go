package mapper

import (
	"encoding/json"
	"time"
)

// Mapper is a named, persisted transform. Spec maps a dotted output path to
// a CEL expression evaluated against the input document bound as "doc".
//
//	{"vaccination.code": "doc.credentialSubject.vaccine.code",
//	 "vaccination.date": "doc.credentialSubject.date"}
//
// An expression evaluating to null leaves its output path unset.
type Mapper struct {
	Name         string            `json:"name"`
	Spec         map[string]string `json:"spec"`
	OutputSchema json.RawMessage   `json:"outputSchema,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}
