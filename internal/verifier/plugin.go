package verifier

import (
	"context"
	"crypto"
	"time"

	"healthcred/internal/credential/models"
)

// KeyResolver resolves an issuer's public key by issuer and key id. The
// resolver is scoped to one organization; see orgcontext.
type KeyResolver interface {
	Resolve(ctx context.Context, issuerID, keyID string) (crypto.PublicKey, error)
}

// Context carries everything a plugin may need beyond the item itself.
type Context struct {
	EntityID string

	// HolderPublicKey is the holder's declared key, used for self-attested
	// credentials and consent receipts that do not embed their own key.
	HolderPublicKey   string
	HolderKeyEncoding models.KeyEncoding

	Keys KeyResolver
	Now  time.Time
}

// Plugin is the universal interface every signature scheme implements.
//
// Claims must be cheap and side-effect free: the registry asks every plugin
// in registration order and dispatches to the first one that claims the item.
type Plugin interface {
	// Name is a unique identifier such as "selfattested-pem".
	Name() string

	// Claims reports whether this plugin can verify the item.
	Claims(item models.RawItem, vctx Context) bool

	// Decode parses the item into the format-independent credential view
	// without checking any signature.
	Decode(item models.RawItem) (*models.Credential, error)

	// Verify checks the credential's signature (and any format-specific
	// integrity such as disclosure digests). Returns a *Error on failure.
	Verify(ctx context.Context, cred *models.Credential, vctx Context) error
}

// ConsentVerifier is implemented by plugins able to check a consent
// receipt signed with the holder's key.
type ConsentVerifier interface {
	Plugin
	AcceptsHolderKey(enc models.KeyEncoding) bool
	VerifyConsent(ctx context.Context, receipt *models.ConsentReceipt, vctx Context) error
}
