package engine

import "errors"

// Typed delivery failure kinds, classifying why a single MX attempt or an
// entire delivery did not succeed (spec.md §7).
var (
	// ErrResolutionFailure means MX resolution returned no hosts.
	ErrResolutionFailure = errors.New("resolution failure")
	// ErrConnectFailure means the transport connection to an MX host failed.
	ErrConnectFailure = errors.New("connect failure")
	// ErrTLSFailure means STARTTLS negotiation failed.
	ErrTLSFailure = errors.New("tls failure")
	// ErrTransportFailure means an SMTP command round-trip failed after connect.
	ErrTransportFailure = errors.New("transport failure")
	// ErrRecipientRefused means the recipient was rejected by the remote
	// server (a terminal per-host failure that is terminal for the message).
	ErrRecipientRefused = errors.New("recipient refused")
	// ErrDeadlineExceeded means the job's send_timeout elapsed before success.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	// ErrExhausted means every resolved MX host was tried without success.
	ErrExhausted = errors.New("mx hosts exhausted")
)
