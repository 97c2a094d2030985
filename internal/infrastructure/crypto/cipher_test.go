package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsync/backend/internal/domain/integration"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	c, err := NewTokenCipher("test-master-secret-with-enough-entropy", true)
	require.NoError(t, err)
	return c
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, m := range integration.AllMarketplaces() {
		t.Run(string(m), func(t *testing.T) {
			enc, err := c.Encrypt(m, "shpat_abc123")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(enc, "v1:"))
			assert.NotContains(t, enc, "shpat_abc123")

			dec, err := c.Decrypt(m, enc)
			require.NoError(t, err)
			assert.Equal(t, "shpat_abc123", dec)
		})
	}
}

func TestTokenCipher_FreshNoncePerCall(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt(integration.MarketplaceShopify, "same")
	require.NoError(t, err)
	b, err := c.Encrypt(integration.MarketplaceShopify, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenCipher_TamperDetected(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.Encrypt(integration.MarketplaceSquare, "EAAAl-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc, "v1:"))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := "v1:" + base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(integration.MarketplaceSquare, tampered)
	assert.ErrorIs(t, err, integration.ErrCiphertextCorrupted)
}

func TestTokenCipher_MarketplaceBinding(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.Encrypt(integration.MarketplaceShopify, "token")
	require.NoError(t, err)

	_, err = c.Decrypt(integration.MarketplaceBigCommerce, enc)
	assert.ErrorIs(t, err, integration.ErrCiphertextCorrupted)
}

func TestTokenCipher_RejectsGarbage(t *testing.T) {
	c := newTestCipher(t)

	cases := []string{"", "plaintext", "v1:", "v1:!!!notbase64", "v2:" + base64.StdEncoding.EncodeToString([]byte("x"))}
	for _, v := range cases {
		_, err := c.Decrypt(integration.MarketplaceShopify, v)
		assert.ErrorIs(t, err, integration.ErrCiphertextCorrupted, "value %q", v)
	}
}

func TestTokenCipher_DifferentMasterCannotDecrypt(t *testing.T) {
	a := newTestCipher(t)
	b, err := NewTokenCipher("another-master", true)
	require.NoError(t, err)

	enc, err := a.Encrypt(integration.MarketplaceWooCommerce, "ck_123:cs_456")
	require.NoError(t, err)

	_, err = b.Decrypt(integration.MarketplaceWooCommerce, enc)
	assert.ErrorIs(t, err, integration.ErrCiphertextCorrupted)
}

func TestTokenCipher_SharedKeyWhenScopingDisabled(t *testing.T) {
	c, err := NewTokenCipher("shared-master", false)
	require.NoError(t, err)

	enc, err := c.Encrypt(integration.MarketplaceShopify, "token")
	require.NoError(t, err)

	dec, err := c.Decrypt(integration.MarketplaceEtsy, enc)
	require.NoError(t, err)
	assert.Equal(t, "token", dec)
}

func TestNewTokenCipher_Validation(t *testing.T) {
	_, err := NewTokenCipher("", true)
	assert.ErrorIs(t, err, ErrEmptyMasterSecret)
}
