package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"
)

// SMTPClient wraps a standard SMTP exchange with two augmentations spec.md
// §4.3 calls for: the transport socket may be a plain TCP or proxy-wrapped
// connection, and STARTTLS takes a caller-supplied TLS configuration.
// Generalized from the teacher's Sender.deliverToHost, split into the
// discrete operations the Delivery Engine interleaves its own logging and
// deadline checks between.
type SMTPClient struct {
	dial           DialerFunc
	connectTimeout time.Duration
	heloDomain     string

	conn   net.Conn
	client *smtp.Client
}

// NewSMTPClient builds a client that dials connections with dial, bounded
// by connectTimeout. heloDomain is stored on the client; Ehlo does not read
// it and sends the name it is given.
func NewSMTPClient(dial DialerFunc, connectTimeout time.Duration, heloDomain string) *SMTPClient {
	return &SMTPClient{dial: dial, connectTimeout: connectTimeout, heloDomain: heloDomain}
}

// Connect opens a TCP (or proxy-wrapped) connection to host:port.
func (c *SMTPClient) Connect(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating smtp client for %s: %w", host, err)
	}

	c.conn = conn
	c.client = client
	return nil
}

// Ehlo sends the EHLO/HELO greeting and reports the STARTTLS extension, with
// its parameter, if the server advertised it. Other extensions are not
// included and no reply code or text is returned, since net/smtp does not
// expose the raw EHLO response.
func (c *SMTPClient) Ehlo(name string) (capabilities map[string]string, err error) {
	if err := c.client.Hello(name); err != nil {
		return nil, fmt.Errorf("EHLO: %w", err)
	}
	caps := make(map[string]string)
	if ok, param := c.client.Extension("STARTTLS"); ok {
		caps["STARTTLS"] = param
	}
	return caps, nil
}

// StartTLS negotiates STARTTLS using tlsConfig.
func (c *SMTPClient) StartTLS(tlsConfig *tls.Config) error {
	if err := c.client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("%w: STARTTLS: %v", ErrTLSFailure, err)
	}
	return nil
}

// RcptFailure is one recipient's RCPT TO rejection, mirroring the
// (code, message) tuple Python's smtplib.SMTP.send_message puts in its
// refused-recipients dict. It marshals as a 2-element JSON array so the
// registry event log carries the same shape as the original.
type RcptFailure struct {
	Code    int
	Message string
}

// MarshalJSON renders f as [code, message] rather than an object.
func (f RcptFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{f.Code, f.Message})
}

// rcptFailureFromErr extracts the SMTP reply code and text from err, which
// is a *textproto.Error for any protocol-level RCPT rejection.
func rcptFailureFromErr(err error) RcptFailure {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return RcptFailure{Code: protoErr.Code, Message: protoErr.Msg}
	}
	return RcptFailure{Code: 0, Message: err.Error()}
}

// SendMessage runs MAIL FROM, RCPT TO for each recipient, and DATA, returning
// a per-recipient failure map for any recipient RCPT TO rejected. An empty
// map means every recipient was accepted.
func (c *SMTPClient) SendMessage(fromAddr string, msgBytes []byte, rcpt []string) (map[string]RcptFailure, error) {
	if err := c.client.Mail(fromAddr); err != nil {
		return nil, fmt.Errorf("%w: MAIL FROM: %v", ErrTransportFailure, err)
	}

	failures := make(map[string]RcptFailure)
	var accepted []string
	for _, addr := range rcpt {
		if err := c.client.Rcpt(addr); err != nil {
			failures[addr] = rcptFailureFromErr(err)
		} else {
			accepted = append(accepted, addr)
		}
	}

	if len(accepted) == 0 {
		_ = c.client.Reset()
		return failures, nil
	}

	wc, err := c.client.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: DATA: %v", ErrTransportFailure, err)
	}
	if _, err := wc.Write(msgBytes); err != nil {
		wc.Close()
		return nil, fmt.Errorf("%w: writing message body: %v", ErrTransportFailure, err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing DATA: %v", ErrTransportFailure, err)
	}

	return failures, nil
}

// Quit sends QUIT and closes the underlying connection.
func (c *SMTPClient) Quit() error {
	var err error
	if c.client != nil {
		err = c.client.Quit()
		_ = c.client.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return err
}
