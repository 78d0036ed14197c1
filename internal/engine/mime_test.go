package engine

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restmailer/restmailer/internal/mail"
)

func buildOpts(guid string) BuildOptions {
	return BuildOptions{
		Guid:       guid,
		MailDomain: "example.com",
		ServerName: "mail.example.com",
		TsAdded:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuild_SingleTextPartShortcut(t *testing.T) {
	msg := &mail.Message{
		Guid:      "guid-1",
		FromUser:  "sender",
		FromName:  "Sender Name",
		AddressTo: "rcpt@example.org",
		Subject:   "hello",
		Data: []mail.BodyPart{
			{Type: mail.PartText, Text: "hi there", Subtype: "plain", Charset: "utf-8"},
		},
	}

	out, err := Build(msg, buildOpts("guid-1"))
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, "Content-Type: text/plain; charset=utf-8")
	assert.NotContains(t, s, "multipart/mixed")
	assert.Contains(t, s, "Message-Id: <guid-1@mail.example.com>")
	assert.Contains(t, s, "To: rcpt@example.org")
	assert.Contains(t, s, "From: Sender Name <sender@example.com>")
	assert.Contains(t, s, "Subject: hello")
	assert.Contains(t, s, "Received: by iaasstore/restmailer via API; id guid-1 for <rcpt@example.org>;")
}

func TestBuild_MultipartMixedWithAttachment(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("file contents"))
	msg := &mail.Message{
		Guid:      "guid-2",
		FromUser:  "sender",
		AddressTo: "rcpt@example.org",
		Subject:   "with attachment",
		Data: []mail.BodyPart{
			{Type: mail.PartText, Text: "body", Subtype: "plain", Charset: "utf-8"},
			{Type: mail.PartAttachment, Name: "file.txt", ContentType: "text/plain", ContentB64: content},
		},
	}

	out, err := Build(msg, buildOpts("guid-2"))
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, "multipart/mixed")
	assert.Contains(t, s, `Content-Disposition: attachment; filename="file.txt"`)
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
}

func TestBuild_SubjectEncodedWordForNonASCII(t *testing.T) {
	msg := &mail.Message{
		Guid:      "guid-3",
		FromUser:  "sender",
		AddressTo: "rcpt@example.org",
		Subject:   "héllo",
		Data:      []mail.BodyPart{{Type: mail.PartText, Text: "body", Subtype: "plain", Charset: "utf-8"}},
	}

	out, err := Build(msg, buildOpts("guid-3"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "Subject: =?utf-8?")
}

func TestBuild_DKIMSigningAddsHeader(t *testing.T) {
	keyPath := writeTestDKIMKey(t, 1024)
	msg := &mail.Message{
		Guid:      "guid-4",
		FromUser:  "sender",
		AddressTo: "rcpt@example.org",
		Subject:   "signed",
		Data:      []mail.BodyPart{{Type: mail.PartText, Text: "body", Subtype: "plain", Charset: "utf-8"}},
	}

	opts := buildOpts("guid-4")
	opts.DKIMKeyPath = keyPath
	opts.DKIMSelector = "mail"

	out, err := Build(msg, opts)
	require.NoError(t, err)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "DKIM-Signature:"))
	assert.Contains(t, s, "d=example.com")
}

func TestBuild_DKIMSigningFailureSendsUnsigned(t *testing.T) {
	msg := &mail.Message{
		Guid:      "guid-5",
		FromUser:  "sender",
		AddressTo: "rcpt@example.org",
		Subject:   "unsigned on failure",
		Data:      []mail.BodyPart{{Type: mail.PartText, Text: "body", Subtype: "plain", Charset: "utf-8"}},
	}

	opts := buildOpts("guid-5")
	opts.DKIMKeyPath = "/nonexistent/key.pem"

	out, err := Build(msg, opts)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "DKIM-Signature:")
}

func TestSplitContentType(t *testing.T) {
	main, sub := splitContentType("image/png")
	assert.Equal(t, "image", main)
	assert.Equal(t, "png", sub)

	main, sub = splitContentType("")
	assert.Equal(t, "application", main)
	assert.Equal(t, "octet-stream", sub)
}
