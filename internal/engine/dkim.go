package engine

import (
	"bufio"
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/textproto"
	"os"
	"strings"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders lists the headers signed into the DKIM hash: the headers the
// MIME Builder always adds (spec.md §4.4), except Received.
var signedHeaders = []string{"From", "To", "Subject", "Date", "Message-Id"}

// loadDKIMPrivateKey reads and parses a PEM-encoded RSA private key from
// path, adapted from the teacher's ParsePrivateKey to read from disk since
// spec.md §4.4 configures a key path rather than an inline PEM string.
func loadDKIMPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dkim key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decoding PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing dkim private key: %w", err)
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("dkim key in %s is not an RSA key", path)
	}
	return key, nil
}

// SignDKIM signs message with the RSA key at keyPath for domain/selector
// and returns the value of the resulting DKIM-Signature header, with the
// "DKIM-Signature: " prefix stripped — the Builder adds the header itself
// (spec.md §4.4). Adapted from the teacher's SignMessage, which instead
// prepends the whole signed message; here go-msgauth/dkim's output is read
// back with a textproto.Reader to pull just the header value out.
func SignDKIM(message []byte, domain, selector, keyPath string) (string, error) {
	privateKey, err := loadDKIMPrivateKey(keyPath)
	if err != nil {
		return "", fmt.Errorf("loading dkim key: %w", err)
	}

	options := &dkim.SignOptions{
		Domain:     domain,
		Selector:   selector,
		Signer:     privateKey,
		Hash:       crypto.SHA256,
		HeaderKeys: signedHeaders,
		// Relaxed header canonicalization makes the unfolded value returned
		// by extractDKIMHeaderValue verify the same as the folded original.
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return "", fmt.Errorf("signing message with dkim: %w", err)
	}

	return extractDKIMHeaderValue(signed.Bytes())
}

// extractDKIMHeaderValue parses the DKIM-Signature header dkim.Sign
// prepended to its output and returns just its value, unfolded onto a
// single line: textproto joins each folded continuation line with one
// space, so the folding dkim.Sign produced is not kept.
func extractDKIMHeaderValue(signedMessage []byte) (string, error) {
	reader := bufio.NewReader(bytes.NewReader(signedMessage))
	tp := textproto.NewReader(reader)

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return "", fmt.Errorf("reading signed headers: %w", err)
	}

	value := header.Get("Dkim-Signature")
	if value == "" {
		return "", fmt.Errorf("dkim.Sign did not produce a DKIM-Signature header")
	}
	return strings.TrimSpace(value), nil
}
