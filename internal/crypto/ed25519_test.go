package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignRequestRoundTrip(t *testing.T) {
	pubB64, privB64, err := GenerateKey()
	require.NoError(t, err)

	pub, err := ValidatePublicKey(pubB64)
	require.NoError(t, err)
	priv, err := ParsePrivateKey(privB64)
	require.NoError(t, err)

	body := []byte(`{"body":"hello"}`)
	nonce := NewNonce()
	sig := SignRequest(priv, body, nonce, 1700000000000)

	payload := SignaturePayload(BodyHash(body), nonce, 1700000000000)
	assert.NoError(t, VerifySignature(pub, payload, sig))

	tampered := SignaturePayload(BodyHash([]byte(`{"body":"bye"}`)), nonce, 1700000000000)
	assert.ErrorIs(t, VerifySignature(pub, tampered, sig), ErrInvalidSignature)
}

func TestParsePrivateKeyAcceptsSeed(t *testing.T) {
	_, privB64, err := GenerateKey()
	require.NoError(t, err)
	priv, err := ParsePrivateKey(privB64)
	require.NoError(t, err)

	seedKey, err := ParsePrivateKey(encode(priv.Seed()))
	require.NoError(t, err)
	assert.Equal(t, priv, seedKey)
}

func TestValidatePublicKeyErrors(t *testing.T) {
	_, err := ValidatePublicKey("not base64!")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = ValidatePublicKey(encode([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestNewNonceLength(t *testing.T) {
	a, b := NewNonce(), NewNonce()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
