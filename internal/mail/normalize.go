package mail

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults carries the configuration-derived fallback values normalize uses
// to fill in fields the client left unset. It is a narrow view of
// config.Config kept here to avoid mail importing config.
type Defaults struct {
	FromUser           string
	SendTimeoutSeconds int
	IgnoreStarttlsCert bool
}

// Normalize returns a copy of msg with config-defaulted fields filled in.
// It never mutates msg.
func Normalize(msg Message, d Defaults) Message {
	out := msg

	if out.FromUser == "" {
		out.FromUser = d.FromUser
	}
	if out.FromName == "" {
		out.FromName = capitalize(out.FromUser)
	}
	if out.SendTimeout == nil {
		t := d.SendTimeoutSeconds
		out.SendTimeout = &t
	}
	if out.IgnoreStarttlsCert == nil {
		v := d.IgnoreStarttlsCert
		out.IgnoreStarttlsCert = &v
	}

	data := make([]BodyPart, len(out.Data))
	for i, p := range out.Data {
		if p.Type == PartText {
			if p.Subtype == "" {
				p.Subtype = "plain"
			}
			if p.Charset == "" {
				p.Charset = "utf-8"
			}
			p.Text = normalizeCRLF(p.Text)
		}
		data[i] = p
	}
	out.Data = data

	return out
}

// capitalize mirrors Python's str.capitalize(): the first rune upper-cased,
// every other rune lower-cased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// normalizeCRLF replaces any CRLF or bare LF with LF, then rejoins with
// CRLF, so the emitted text/* part never contains a bare LF.
func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	return strings.Join(lines, "\r\n")
}

// SingleTextPart reports whether data is exactly one text part, in which
// case the outer MIME body IS that part rather than a multipart/mixed
// container.
func SingleTextPart(data []BodyPart) (BodyPart, bool) {
	if len(data) == 1 && data[0].Type == PartText {
		return data[0], true
	}
	return BodyPart{}, false
}
