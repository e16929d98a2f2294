package cipher

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "healthcred/pkg/domain-errors"
)

// TestRoundTrip checks decrypt(encrypt(x)) == x for every algorithm.
func TestRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	for _, alg := range Algorithms() {
		key, err := GenerateKey(alg)
		require.NoError(t, err)

		properties.Property(string(alg)+" round trips", prop.ForAll(
			func(payload []byte) bool {
				sealed, err := Encrypt(payload, key)
				if err != nil {
					return false
				}
				opened, err := Decrypt(sealed, key)
				if err != nil {
					return false
				}
				return bytes.Equal(payload, opened)
			},
			gen.SliceOf(gen.UInt8()),
		))
	}

	properties.TestingRun(t)
}

func TestDecrypt_Malformed(t *testing.T) {
	t.Run("cbc ciphertext with partial block", func(t *testing.T) {
		key, err := GenerateKey(AES256CBC)
		require.NoError(t, err)
		_, err = Decrypt([]byte("short"), key)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("gcm ciphertext under the wrong key", func(t *testing.T) {
		key, err := GenerateKey(AES256GCM)
		require.NoError(t, err)
		other, err := GenerateKey(AES256GCM)
		require.NoError(t, err)
		other.IV = key.IV

		sealed, err := Encrypt([]byte(`[{"id":"1"}]`), key)
		require.NoError(t, err)
		_, err = Decrypt(sealed, other)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("key of the wrong length", func(t *testing.T) {
		key := Key{
			Value:     base64.StdEncoding.EncodeToString([]byte("too-short")),
			IV:        base64.StdEncoding.EncodeToString(make([]byte, 16)),
			Algorithm: AES256CBC,
		}
		_, err := Decrypt(make([]byte, 16), key)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		_, err := ParseAlgorithm("rot13")
		require.Error(t, err)
	})
}

func TestDecryptBase64(t *testing.T) {
	key, err := GenerateKey(ChaCha20Poly1305)
	require.NoError(t, err)
	sealed, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	opened, err := DecryptBase64(base64.StdEncoding.EncodeToString(sealed), key)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(opened))

	_, err = DecryptBase64("%%%", key)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
