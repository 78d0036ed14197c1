package engine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/restmailer/restmailer/internal/mail"
)

// headerOrder lists the headers the Builder always adds, written in this
// order for DKIM reproducibility, generalized from the teacher's
// writeHeaders orderedKeys list.
var headerOrder = []string{"Received", "Message-Id", "Date", "Subject", "From", "To"}

// BuildOptions carries the server-identity fields the Builder needs that
// are not present on the mail.Message itself (spec.md §4.4).
type BuildOptions struct {
	Guid         string
	MailDomain   string
	ServerName   string
	TsAdded      time.Time
	DKIMKeyPath  string
	DKIMSelector string
	Logger       *slog.Logger
}

// Build renders msg into an RFC 5322 message: a bare text part when msg.Data
// holds exactly one text.BodyPart, otherwise a multipart/mixed envelope with
// each part attached in order. Generalized from the teacher's BuildMessage.
func Build(msg *mail.Message, opts BuildOptions) ([]byte, error) {
	headers := textproto.MIMEHeader{}
	headers.Set("Received", fmt.Sprintf(
		"by iaasstore/restmailer via API; id %s for <%s>; %s",
		opts.Guid, msg.AddressTo, rfc5322Date(opts.TsAdded)))
	headers.Set("Message-Id", fmt.Sprintf("<%s@%s>", opts.Guid, opts.ServerName))
	headers.Set("Date", rfc5322Date(opts.TsAdded))
	headers.Set("Subject", encodeWord(msg.Subject))
	headers.Set("From", formatFrom(msg.FromName, msg.FromUser, opts.MailDomain))
	headers.Set("To", msg.AddressTo)

	var buf bytes.Buffer

	if part, ok := mail.SingleTextPart(msg.Data); ok {
		if err := buildSinglePart(&buf, headers, part); err != nil {
			return nil, err
		}
	} else {
		if err := buildMultipartMixed(&buf, headers, msg.Data); err != nil {
			return nil, err
		}
	}

	raw := buf.Bytes()

	if opts.DKIMKeyPath != "" {
		value, err := SignDKIM(raw, opts.MailDomain, opts.DKIMSelector, opts.DKIMKeyPath)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Error("mailer-dkim", "error", err.Error())
			}
			return raw, nil
		}
		raw = prependHeader(raw, "DKIM-Signature", value)
	}

	return raw, nil
}

// prependHeader inserts "Name: value\r\n" immediately before the existing
// header block, so the DKIM-Signature header ends up alongside the other
// headers rather than wrapping the whole message.
func prependHeader(message []byte, name, value string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	buf.Write(message)
	return buf.Bytes()
}

func rfc5322Date(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700")
}

// encodeWord RFC-2047-encodes s if it contains non-ASCII bytes, matching the
// teacher's encodeSubject.
func encodeWord(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

// formatFrom builds an RFC 5322 From header with an optional display name.
func formatFrom(fromName, fromUser, mailDomain string) string {
	addrSpec := fmt.Sprintf("%s@%s", fromUser, mailDomain)
	if fromName == "" {
		return addrSpec
	}
	return fmt.Sprintf("%s <%s>", encodeWord(fromName), addrSpec)
}

func writeHeaders(buf *bytes.Buffer, headers textproto.MIMEHeader) {
	written := make(map[string]bool)
	for _, key := range headerOrder {
		canon := textproto.CanonicalMIMEHeaderKey(key)
		for _, v := range headers[canon] {
			fmt.Fprintf(buf, "%s: %s\r\n", canon, v)
		}
		written[canon] = true
	}
	for key, values := range headers {
		if written[key] {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(buf, "%s: %s\r\n", key, v)
		}
	}
	buf.WriteString("\r\n")
}

// buildSinglePart writes the bare-body shortcut: the outer message IS the
// text/<subtype> body, with no multipart wrapper.
func buildSinglePart(buf *bytes.Buffer, headers textproto.MIMEHeader, part mail.BodyPart) error {
	subtype := part.Subtype
	if subtype == "" {
		subtype = "plain"
	}
	charset := part.Charset
	if charset == "" {
		charset = "utf-8"
	}
	headers.Set("Content-Type", fmt.Sprintf("text/%s; charset=%s", subtype, charset))
	headers.Set("Content-Transfer-Encoding", "quoted-printable")
	headers.Set("Mime-Version", "1.0")
	writeHeaders(buf, headers)

	w := quotedprintable.NewWriter(buf)
	if _, err := w.Write([]byte(part.Text)); err != nil {
		return fmt.Errorf("writing text body: %w", err)
	}
	return w.Close()
}

// buildMultipartMixed writes a multipart/mixed envelope with each part of
// parts attached in order, text parts quoted-printable and attachments
// base64-encoded with a Content-Disposition header.
func buildMultipartMixed(buf *bytes.Buffer, headers textproto.MIMEHeader, parts []mail.BodyPart) error {
	w := multipart.NewWriter(buf)
	headers.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", w.Boundary()))
	headers.Set("Mime-Version", "1.0")
	writeHeaders(buf, headers)

	for _, part := range parts {
		switch part.Type {
		case mail.PartText:
			if err := writeTextPart(w, part); err != nil {
				return err
			}
		case mail.PartAttachment:
			if err := writeAttachmentPart(w, part); err != nil {
				return err
			}
		}
	}

	return w.Close()
}

func writeTextPart(w *multipart.Writer, part mail.BodyPart) error {
	subtype := part.Subtype
	if subtype == "" {
		subtype = "plain"
	}
	charset := part.Charset
	if charset == "" {
		charset = "utf-8"
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("text/%s; charset=%s", subtype, charset))
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating text part: %w", err)
	}
	qw := quotedprintable.NewWriter(pw)
	if _, err := qw.Write([]byte(part.Text)); err != nil {
		return fmt.Errorf("writing text part body: %w", err)
	}
	return qw.Close()
}

// writeAttachmentPart emits a MIMEBase(maintype, subtype) part, base64
// transfer-encoded and line-wrapped at 76 characters, grounded on the
// teacher's buildMultipartMixed attachment handling.
func writeAttachmentPart(w *multipart.Writer, part mail.BodyPart) error {
	maintype, subtype := splitContentType(part.ContentType)

	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(part.ContentB64))
	if err != nil {
		return fmt.Errorf("decoding attachment %q content: %w", part.Name, err)
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("%s/%s; name=%q", maintype, subtype, part.Name))
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", part.Name))

	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating attachment part %q: %w", part.Name, err)
	}

	encoder := base64.NewEncoder(base64.StdEncoding, &lineWrapper{writer: pw, lineLen: 76})
	if _, err := encoder.Write(content); err != nil {
		return fmt.Errorf("encoding attachment %q: %w", part.Name, err)
	}
	return encoder.Close()
}

func splitContentType(contentType string) (maintype, subtype string) {
	if contentType == "" {
		return "application", "octet-stream"
	}
	idx := strings.IndexByte(contentType, '/')
	if idx < 0 {
		return contentType, "octet-stream"
	}
	return contentType[:idx], contentType[idx+1:]
}

// lineWrapper wraps writes at lineLen characters with CRLF, matching the
// teacher's lineWrapper used for base64 attachment bodies.
type lineWrapper struct {
	writer  io.Writer
	lineLen int
	current int
}

func (lw *lineWrapper) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		remaining := lw.lineLen - lw.current
		if remaining <= 0 {
			if _, err := lw.writer.Write([]byte("\r\n")); err != nil {
				return total, err
			}
			lw.current = 0
			remaining = lw.lineLen
		}

		chunk := p
		if len(chunk) > remaining {
			chunk = p[:remaining]
		}

		n, err := lw.writer.Write(chunk)
		total += n
		lw.current += n
		p = p[n:]
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
