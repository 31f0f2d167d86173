package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESRoundTrip(t *testing.T) {
	v, err := NewFactory(Config{Provider: "aes", AESKey: "local-dev-key"})
	require.NoError(t, err)

	receipt := []byte("MIIT0gYJKoZIhvcNAQcCoIITwzCCE78CAQExCzAJBgUrDgMCGgUA")
	sealed, err := v.Encrypt(receipt)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(receipt))

	opened, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, receipt, opened)
}

func TestAESNoncesDiffer(t *testing.T) {
	v, err := NewFactory(Config{AESKey: "k"})
	require.NoError(t, err)

	a, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWithOtherKeyFails(t *testing.T) {
	a, err := NewFactory(Config{AESKey: "key-a"})
	require.NoError(t, err)
	b, err := NewFactory(Config{AESKey: "key-b"})
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("receipt"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptRejectsMalformedPayload(t *testing.T) {
	v, err := NewFactory(Config{AESKey: "k"})
	require.NoError(t, err)

	for _, raw := range []string{`not json`, `{"v":2,"n":"","c":""}`, `{"v":1,"n":"!!","c":"AA"}`, `{"v":1,"n":"AA","c":"AA"}`} {
		_, err := v.Decrypt([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidPayload, raw)
	}
}

func TestFactoryValidation(t *testing.T) {
	_, err := NewFactory(Config{Provider: "aes"})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFactory(Config{Provider: "hsm", AESKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
