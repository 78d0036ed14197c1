// Package testutil provides fixtures and HTTP test helpers for the handler
// tests.
package testutil

import (
	"time"

	"github.com/restmailer/restmailer/internal/mail"
	"github.com/restmailer/restmailer/internal/registry"
)

// FixedTime is a stable timestamp fixtures anchor to, matching the
// teacher's pattern of a package-level fixed clock for deterministic tests.
var FixedTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

// NewTestMessage returns a valid, already-normalized single-text-part
// submission ready for Registry insertion.
func NewTestMessage(guid string) mail.Message {
	sendTimeout := 30
	ignoreCert := false
	return mail.Message{
		Guid:      guid,
		FromUser:  "notify",
		FromName:  "Notify",
		AddressTo: "recipient@example.com",
		Subject:   "Test Subject",
		Data: []mail.BodyPart{
			{Type: mail.PartText, Text: "hello", Subtype: "plain", Charset: "utf-8"},
		},
		SendTimeout:        &sendTimeout,
		IgnoreStarttlsCert: &ignoreCert,
	}
}

// NewTestItem returns a RuntimeItem wrapping NewTestMessage in state
// "sending", as the Registry would hold it right after ingress.
func NewTestItem(guid string) registry.Item {
	return registry.Item{
		Message: NewTestMessage(guid),
		TsAdded: FixedTime.Unix(),
		State:   registry.StateSending,
	}
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int { return &i }
