package engine

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestDKIMKey(t *testing.T, bits int) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	path := filepath.Join(t.TempDir(), "dkim.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

const dkimTestMessage = "From: sender@example.com\r\n" +
	"To: rcpt@example.com\r\n" +
	"Subject: hi\r\n" +
	"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n" +
	"Message-Id: <abc@example.com>\r\n" +
	"\r\n" +
	"body\r\n"

func TestSignDKIM_ReturnsHeaderValueOnly(t *testing.T) {
	keyPath := writeTestDKIMKey(t, 1024)

	value, err := SignDKIM([]byte(dkimTestMessage), "example.com", "mail", keyPath)
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "dkim-signature"),
		"value must not carry the header name prefix")
	assert.Contains(t, value, "d=example.com")
	assert.Contains(t, value, "s=mail")
}

func TestSignDKIM_MissingKeyFile(t *testing.T) {
	_, err := SignDKIM([]byte(dkimTestMessage), "example.com", "mail", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestSignDKIM_MalformedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))

	_, err := SignDKIM([]byte(dkimTestMessage), "example.com", "mail", path)
	assert.Error(t, err)
}

func TestSignDKIM_DifferentSelectorsProduceDifferentSignatures(t *testing.T) {
	keyPath := writeTestDKIMKey(t, 1024)

	valueA, err := SignDKIM([]byte(dkimTestMessage), "example.com", "mail", keyPath)
	require.NoError(t, err)
	valueB, err := SignDKIM([]byte(dkimTestMessage), "example.com", "other", keyPath)
	require.NoError(t, err)

	assert.Contains(t, valueA, "s=mail")
	assert.Contains(t, valueB, "s=other")
}

func TestLoadDKIMPrivateKey_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "dkim-pkcs8.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	parsed, err := loadDKIMPrivateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key.N, parsed.N)
}
