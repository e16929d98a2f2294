package verifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"healthcred/internal/credential/models"
)

// stringList decodes either a JSON string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*s = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = []string{one}
	return nil
}

// idRef decodes either a bare identifier or an object carrying "id". Arrays
// resolve to their first element.
type idRef string

func (r *idRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = idRef(s)
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = idRef(obj.ID)
	case '[':
		var arr []idRef
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			*r = arr[0]
		}
	default:
		return fmt.Errorf("unexpected identifier %s", b)
	}
	return nil
}

type w3cDocument struct {
	ID                string         `json:"id"`
	Type              stringList     `json:"type"`
	Issuer            idRef          `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	ValidFrom         string         `json:"validFrom"`
	CredentialSchema  idRef          `json:"credentialSchema"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *models.Proof  `json:"proof"`
}

// DecodeW3C parses a JSON-LD style verifiable credential with an embedded proof.
func DecodeW3C(format models.Format, raw json.RawMessage) (*models.Credential, error) {
	cred, err := DecodeW3CBody(format, raw)
	if err != nil {
		return nil, err
	}
	if cred.Proof == nil || cred.Proof.SignatureValue == "" {
		return nil, errors.New("credential has no proof")
	}
	return cred, nil
}

// DecodeW3CBody parses the credential body without requiring a proof, as
// carried inside JWT "vc" claims.
func DecodeW3CBody(format models.Format, raw json.RawMessage) (*models.Credential, error) {
	var doc w3cDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &models.Credential{
		Format:    format,
		ID:        doc.ID,
		Types:     doc.Type,
		Issuer:    string(doc.Issuer),
		SchemaRef: string(doc.CredentialSchema),
		IssuedAt:  parseTime(firstNonEmpty(doc.IssuanceDate, doc.ValidFrom)),
		Subject:   doc.CredentialSubject,
		Proof:     doc.Proof,
		Document:  full,
	}, nil
}

// SigningInput returns the RFC 8785 canonical form of the document with its
// proof block removed. Numbers keep their original text.
func SigningInput(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	delete(doc, "proof")
	stripped, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return jcs.Transform(stripped)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
