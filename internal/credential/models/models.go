package models

import (
	"encoding/json"
	"time"
)

// Format identifies the wire encoding of a credential. Formats are assigned
// by explicit discriminators during bundle classification, never by the
// absence of fields.
type Format string

const (
	FormatUnknown      Format = "unknown"
	FormatSelfAttested Format = "self_attested"     // W3C VC JSON, RSA-PSS holder signature
	FormatIssuerSigned Format = "issuer_signed"     // W3C VC JSON, ECDSA P-256 issuer signature
	FormatJWTVC        Format = "jwt_vc"            // compact JWT carrying a "vc" claim
	FormatSDJWT        Format = "sd_jwt_vc"         // issuer JWT plus selective disclosures
	FormatSHC          Format = "smart_health_card" // shc:/ numeric or deflated JWS
)

// Proof type discriminators for JSON credentials and consent receipts.
const (
	ProofTypeRSAPSS = "RsaPssSignature2023"
	ProofTypeECDSA  = "EcdsaSecp256r1Signature2019"
)

// CredTypeUnknown marks a verified item whose logical type could not be determined.
const CredTypeUnknown = "unknown"

// KeyEncoding names how a self-attested public key is presented.
type KeyEncoding string

const (
	KeyEncodingPEM KeyEncoding = "pem"
	KeyEncodingJWK KeyEncoding = "jwk"
)

// Proof is the embedded signature block of JSON credentials and consent receipts.
type Proof struct {
	Type               string          `json:"type"`
	Created            string          `json:"created,omitempty"`
	Creator            string          `json:"creator,omitempty"`
	VerificationMethod string          `json:"verificationMethod,omitempty"`
	SignatureValue     string          `json:"signatureValue"`
	PublicKeyPem       string          `json:"publicKeyPem,omitempty"`
	PublicKeyJwk       json.RawMessage `json:"publicKeyJwk,omitempty"`
}

// RawItem is one undecoded bundle entry after classification.
// Exactly one of JSON and Compact is set.
type RawItem struct {
	Index   int
	Format  Format
	JSON    json.RawMessage
	Compact string
}

// ConsentReceipt is the signed, time-bound artifact establishing the
// holder's consent to a submission.
type ConsentReceipt struct {
	ID               string          `json:"id"`
	ConsentTimestamp time.Time       `json:"consentTimestamp"`
	Principal        json.RawMessage `json:"principal,omitempty"`
	Purpose          string          `json:"purpose,omitempty"`
	Proof            Proof           `json:"proof"`

	Raw json.RawMessage `json:"-"`
}

// Credential is the decoded, format-independent view of one credential.
type Credential struct {
	Format    Format         `json:"format"`
	ID        string         `json:"id"`
	Types     []string       `json:"type"`
	Issuer    string         `json:"issuer"`
	SchemaRef string         `json:"schemaRef,omitempty"`
	IssuedAt  time.Time      `json:"issuedAt,omitempty"`
	Subject   map[string]any `json:"subjectData"`
	Proof     *Proof         `json:"proof,omitempty"`

	// Document is the full decoded payload handed to mapping transforms.
	Document map[string]any `json:"-"`
	Raw      RawItem        `json:"-"`
}

// LogicalType is the (id, schemaId, credType) triple extracted per format.
type LogicalType struct {
	ID       string
	SchemaID string
	CredType string
}

// VerificationResult is the uniform outcome of dispatching one item through
// the verifier registry, regardless of signature scheme.
type VerificationResult struct {
	Success    bool           `json:"success"`
	CredType   string         `json:"credType"`
	Message    string         `json:"message,omitempty"`
	Plugin     string         `json:"plugin,omitempty"`
	Credential *Credential    `json:"credential,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// InvalidCredential reports a rejected item back to the holder.
type InvalidCredential struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// StatDoc is the append-only audit record of one processed credential.
type StatDoc struct {
	EntityID            string    `json:"entityId"`
	HolderID            string    `json:"holderId"`
	CredID              string    `json:"credId"`
	SchemaID            string    `json:"schemaId"`
	CredType            string    `json:"credType"`
	SubmissionID        string    `json:"submissionId"`
	BatchID             string    `json:"batchId,omitempty"`
	SubmissionTimestamp time.Time `json:"submissionTimestamp"`
}

// Organization categories.
const (
	CategoryIndividual   = "individual"
	CategoryOrganization = "organization"
)

// EntityConfig is the per-organization pipeline configuration.
type EntityConfig struct {
	EntityID string `json:"entityId"`
	Category string `json:"category"`

	// TransformEnabled routes accepted credentials through MapperName and
	// consent receipts through ConsentMapperName.
	TransformEnabled  bool   `json:"transformEnabled"`
	MapperName        string `json:"mapperName,omitempty"`
	ConsentMapperName string `json:"consentMapperName,omitempty"`

	MetadataEnabled bool `json:"metadataEnabled"`
}
