package testutil

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gowebpki/jcs"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"healthcred/internal/credential/models"
)

// TestIDs provides stable identifiers for tests.
var TestIDs = struct {
	EntityID  string
	EntityID2 string
	HolderID  string
	IssuerID  string
	KeyID     string
}{
	EntityID:  "org-0001",
	EntityID2: "org-0002",
	HolderID:  "holder-0001",
	IssuerID:  "https://issuer.example.org",
	KeyID:     "key-1",
}

// Holder signs self-attested credentials and consent receipts with RSA-PSS.
type Holder struct {
	ID  string
	Key *rsa.PrivateKey
}

var sharedHolderKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
})

// NewHolder returns a holder backed by a process-wide RSA key.
func NewHolder() *Holder {
	return &Holder{ID: TestIDs.HolderID, Key: sharedHolderKey()}
}

// NewHolderWithFreshKey generates a distinct RSA key, for mismatch tests.
func NewHolderWithFreshKey() *Holder {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return &Holder{ID: "holder-other", Key: key}
}

// PublicPEM returns the PKIX PEM encoding of the holder key.
func (h *Holder) PublicPEM() string {
	der, err := x509.MarshalPKIXPublicKey(&h.Key.PublicKey)
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// PublicJWK returns the holder key as a JSON Web Key.
func (h *Holder) PublicJWK() string {
	return string(mustJWK(&h.Key.PublicKey, ""))
}

// SignSelfAttested attaches an RSA-PSS proof to a credential document.
func (h *Holder) SignSelfAttested(doc map[string]any) json.RawMessage {
	sig := signPS256(canonical(doc), h.Key)
	return withProof(doc, map[string]any{
		"type":           models.ProofTypeRSAPSS,
		"created":        "2026-01-01T00:00:00Z",
		"creator":        h.ID,
		"signatureValue": sig,
	})
}

// SignConsent builds a signed consent receipt.
func (h *Holder) SignConsent(id string, at time.Time) json.RawMessage {
	return h.SignConsentDoc(map[string]any{
		"id":               id,
		"consentTimestamp": at.UTC().Format(time.RFC3339),
		"principal":        map[string]any{"id": h.ID},
		"purpose":          "credential-submission",
	})
}

// SignConsentDoc signs an arbitrary consent document, for receipts in an
// organization's own shape.
func (h *Holder) SignConsentDoc(doc map[string]any) json.RawMessage {
	sig := signPS256(canonical(doc), h.Key)
	return withProof(doc, map[string]any{
		"type":           models.ProofTypeRSAPSS,
		"creator":        h.ID,
		"signatureValue": sig,
	})
}

// Issuer signs credentials with an ECDSA P-256 key.
type Issuer struct {
	ID    string
	KeyID string
	Key   *ecdsa.PrivateKey
}

// NewIssuer generates a fresh issuer key.
func NewIssuer(id, kid string) *Issuer {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return &Issuer{ID: id, KeyID: kid, Key: key}
}

// PublicJWK returns the issuer key as a JSON Web Key with its kid.
func (i *Issuer) PublicJWK() []byte {
	return mustJWK(&i.Key.PublicKey, i.KeyID)
}

// SignW3C attaches an ECDSA proof with verification method "issuer#kid".
func (i *Issuer) SignW3C(doc map[string]any) json.RawMessage {
	sig := signES256(string(canonical(doc)), i.Key)
	return withProof(doc, map[string]any{
		"type":               models.ProofTypeECDSA,
		"verificationMethod": i.ID + "#" + i.KeyID,
		"signatureValue":     sig,
	})
}

// SignJWTVC wraps vc into a compact JWT.
func (i *Issuer) SignJWTVC(vc map[string]any, expiresAt time.Time) string {
	claims := jwt.MapClaims{
		"iss": i.ID,
		"nbf": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"vc":  vc,
	}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}
	return i.signJWT(claims, "")
}

// SignSDJWT issues an SD-JWT VC with plain claims and selectively
// disclosable claims.
func (i *Issuer) SignSDJWT(vct string, plain, disclosed map[string]any) string {
	claims := jwt.MapClaims{
		"iss":     i.ID,
		"iat":     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"vct":     vct,
		"_sd_alg": "sha-256",
	}
	for k, v := range plain {
		claims[k] = v
	}
	var disclosures []string
	var digests []any
	for k, v := range disclosed {
		d := EncodeDisclosure("salt-"+k, k, v)
		disclosures = append(disclosures, d)
		sum := sha256.Sum256([]byte(d))
		digests = append(digests, base64.RawURLEncoding.EncodeToString(sum[:]))
	}
	claims["_sd"] = digests
	token := i.signJWT(claims, "vc+sd-jwt")
	return token + "~" + strings.Join(disclosures, "~") + "~"
}

// EncodeDisclosure encodes one [salt, name, value] disclosure.
func EncodeDisclosure(salt, name string, value any) string {
	raw, err := json.Marshal([]any{salt, name, value})
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// SignSHC issues a SMART Health Card, numeric-encoded when numeric is set.
func (i *Issuer) SignSHC(types []string, subject map[string]any, numeric bool) string {
	payload, err := json.Marshal(map[string]any{
		"iss": i.ID,
		"nbf": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"vc": map[string]any{
			"type":              types,
			"credentialSubject": subject,
		},
	})
	if err != nil {
		panic(err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(payload); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}

	header, _ := json.Marshal(map[string]string{"alg": "ES256", "zip": "DEF", "kid": i.KeyID})
	input := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(buf.Bytes())
	jws := input + "." + signES256(input, i.Key)
	if !numeric {
		return jws
	}
	var b strings.Builder
	b.WriteString("shc:/")
	for _, c := range []byte(jws) {
		fmt.Fprintf(&b, "%02d", int(c)-45)
	}
	return b.String()
}

func (i *Issuer) signJWT(claims jwt.MapClaims, typ string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = i.KeyID
	if typ != "" {
		token.Header["typ"] = typ
	}
	signed, err := token.SignedString(i.Key)
	if err != nil {
		panic(err)
	}
	return signed
}

// KeyRing is an in-memory issuer key resolver.
type KeyRing struct {
	mu    sync.Mutex
	keys  map[string]crypto.PublicKey
	Calls int
}

func NewKeyRing(issuers ...*Issuer) *KeyRing {
	r := &KeyRing{keys: make(map[string]crypto.PublicKey)}
	for _, i := range issuers {
		r.Add(i)
	}
	return r
}

func (r *KeyRing) Add(i *Issuer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[i.ID+"#"+i.KeyID] = &i.Key.PublicKey
}

func (r *KeyRing) Resolve(_ context.Context, issuerID, keyID string) (crypto.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	key, ok := r.keys[issuerID+"#"+keyID]
	if !ok {
		return nil, fmt.Errorf("no key %s for issuer %s", keyID, issuerID)
	}
	return key, nil
}

// FetchKey lets a KeyRing stand in for a remote issuer key source; the
// entity id is ignored.
func (r *KeyRing) FetchKey(ctx context.Context, _, issuerID, keyID string) (crypto.PublicKey, error) {
	return r.Resolve(ctx, issuerID, keyID)
}

// VaccinationCredential returns an unsigned W3C credential body.
func VaccinationCredential(id string) map[string]any {
	return map[string]any{
		"@context":     []any{"https://www.w3.org/2018/credentials/v1"},
		"id":           id,
		"type":         []any{"VerifiableCredential", "VaccinationCertificate"},
		"issuer":       TestIDs.IssuerID,
		"issuanceDate": "2026-01-01T00:00:00Z",
		"credentialSchema": map[string]any{
			"id":   "https://schemas.example.org/vaccination/v1",
			"type": "JsonSchema",
		},
		"credentialSubject": map[string]any{
			"id":           TestIDs.HolderID,
			"name":         "Ada Example",
			"vaccineCode":  "J07BX03",
			"doseNumber":   2,
			"dateOfBirth":  "1990-04-01",
			"occurrenceAt": "2025-11-02",
		},
	}
}

// Quote returns s as a JSON string entry, as compact credentials appear in bundles.
func Quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// Bundle joins entries into a bundle JSON array.
func Bundle(entries ...json.RawMessage) []byte {
	b, err := json.Marshal(entries)
	if err != nil {
		panic(err)
	}
	return b
}

func canonical(doc map[string]any) []byte {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		panic(err)
	}
	return out
}

func withProof(doc map[string]any, proof map[string]any) json.RawMessage {
	signed := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		signed[k] = v
	}
	signed["proof"] = proof
	raw, err := json.Marshal(signed)
	if err != nil {
		panic(err)
	}
	return raw
}

func signPS256(input []byte, key *rsa.PrivateKey) string {
	sig, err := jwt.SigningMethodPS256.Sign(string(input), key)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(sig)
}

func signES256(input string, key *ecdsa.PrivateKey) string {
	sig, err := jwt.SigningMethodES256.Sign(input, key)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(sig)
}

func mustJWK(pub any, kid string) []byte {
	key, err := jwk.Import(pub)
	if err != nil {
		panic(err)
	}
	if kid != "" {
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			panic(err)
		}
	}
	raw, err := json.Marshal(key)
	if err != nil {
		panic(err)
	}
	return raw
}
