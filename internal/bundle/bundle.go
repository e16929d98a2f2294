// Package bundle parses a decrypted holder bundle and classifies each entry
// as a consent receipt or a credential of a known wire format.
package bundle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"healthcred/internal/credential/models"
	dErrors "healthcred/pkg/domain-errors"
)

// Kind discriminates bundle entries.
type Kind int

const (
	KindCredential Kind = iota
	KindConsent
)

func (k Kind) String() string {
	if k == KindConsent {
		return "consent"
	}
	return "credential"
}

// Item is one classified bundle entry. Consent is set only for structurally
// valid consent receipts; ParseErr explains why a consent-shaped entry could
// not be decoded.
type Item struct {
	Kind     Kind
	Raw      models.RawItem
	Consent  *models.ConsentReceipt
	ParseErr error
}

// Bundle is the ordered content of a decrypted submission.
type Bundle struct {
	Items []Item
}

// Parse decodes a plaintext bundle: a JSON array whose entries are objects or
// compact strings.
func Parse(plaintext []byte) (*Bundle, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "bundle is not a JSON array")
	}
	b := &Bundle{Items: make([]Item, 0, len(entries))}
	for i, entry := range entries {
		b.Items = append(b.Items, Classify(i, entry))
	}
	return b, nil
}

// Consents returns consent entries in bundle order.
func (b *Bundle) Consents() []Item {
	return b.filter(KindConsent)
}

// Credentials returns credential entries in bundle order.
func (b *Bundle) Credentials() []Item {
	return b.filter(KindCredential)
}

func (b *Bundle) filter(kind Kind) []Item {
	var out []Item
	for _, it := range b.Items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// objectProbe holds only the discriminator fields of a JSON entry.
type objectProbe struct {
	Type             json.RawMessage `json:"type"`
	ConsentTimestamp json.RawMessage `json:"consentTimestamp"`
	Proof            *struct {
		Type string `json:"type"`
	} `json:"proof"`
}

// Classify assigns a kind and format to a single raw entry.
func Classify(index int, raw json.RawMessage) Item {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var compact string
		if err := json.Unmarshal(trimmed, &compact); err != nil {
			return credentialItem(index, models.FormatUnknown, nil, "")
		}
		compact = strings.TrimSpace(compact)
		return credentialItem(index, classifyCompact(compact), nil, compact)
	}

	var probe objectProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return credentialItem(index, models.FormatUnknown, trimmed, "")
	}

	if len(probe.ConsentTimestamp) > 0 {
		return consentItem(index, trimmed)
	}

	if !hasType(probe.Type, "VerifiableCredential") || probe.Proof == nil {
		return credentialItem(index, models.FormatUnknown, trimmed, "")
	}
	switch probe.Proof.Type {
	case models.ProofTypeRSAPSS:
		return credentialItem(index, models.FormatSelfAttested, trimmed, "")
	case models.ProofTypeECDSA:
		return credentialItem(index, models.FormatIssuerSigned, trimmed, "")
	}
	return credentialItem(index, models.FormatUnknown, trimmed, "")
}

func credentialItem(index int, format models.Format, raw json.RawMessage, compact string) Item {
	return Item{
		Kind: KindCredential,
		Raw:  models.RawItem{Index: index, Format: format, JSON: raw, Compact: compact},
	}
}

func consentItem(index int, raw json.RawMessage) Item {
	item := Item{
		Kind: KindConsent,
		Raw:  models.RawItem{Index: index, Format: models.FormatUnknown, JSON: raw},
	}
	var receipt models.ConsentReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		item.ParseErr = fmt.Errorf("decode consent receipt: %w", err)
		return item
	}
	switch {
	case receipt.ID == "":
		item.ParseErr = fmt.Errorf("consent receipt has no id")
	case receipt.ConsentTimestamp.IsZero():
		item.ParseErr = fmt.Errorf("consent receipt has no timestamp")
	case receipt.Proof.SignatureValue == "":
		item.ParseErr = fmt.Errorf("consent receipt is unsigned")
	default:
		receipt.Raw = raw
		item.Consent = &receipt
	}
	return item
}

func classifyCompact(s string) models.Format {
	if strings.HasPrefix(s, "shc:/") {
		return models.FormatSHC
	}
	jwt, _, isSD := strings.Cut(s, "~")
	if strings.Count(jwt, ".") != 2 {
		return models.FormatUnknown
	}
	if isSD {
		return models.FormatSDJWT
	}

	header, err := compactHeader(jwt)
	if err != nil {
		return models.FormatUnknown
	}
	switch {
	case header.Zip == "DEF":
		return models.FormatSHC
	case header.Typ == "vc+sd-jwt" || header.Typ == "dc+sd-jwt":
		return models.FormatSDJWT
	}
	return models.FormatJWTVC
}

type joseHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Zip string `json:"zip"`
	Kid string `json:"kid"`
}

func compactHeader(jwt string) (joseHeader, error) {
	var h joseHeader
	seg, _, _ := strings.Cut(jwt, ".")
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(raw, &h)
	return h, err
}

func hasType(raw json.RawMessage, want string) bool {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return slices.Contains(many, want)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one == want
	}
	return false
}
