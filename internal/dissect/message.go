package dissect

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// maxDepth bounds MIME nesting when converting entities.
const maxDepth = 32

// Message is a parsed email: headers keyed by lower-cased name and the
// top-level body parts.
type Message struct {
	Header map[string][]string
	Parts  []*Part
}

// Part is one node of the body tree. Leaf parts carry decoded Body text;
// multipart containers carry child Parts.
type Part struct {
	ContentType string
	Body        string
	Parts       []*Part
}

// Values returns every value of a header.
func (m *Message) Values(key string) []string {
	if m == nil || m.Header == nil {
		return nil
	}
	return m.Header[strings.ToLower(key)]
}

// Get returns the first value of a header, or "".
func (m *Message) Get(key string) string {
	if v := m.Values(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// MessageID returns the Message-ID header value.
func (m *Message) MessageID() string {
	return strings.TrimSpace(m.Get("message-id"))
}

// Label returns the human-readable label stored with an email.
func (m *Message) Label() string {
	return fmt.Sprintf("From %s (%s)", m.Get("from"), m.Get("date"))
}

// Parse reads an RFC 5322 message. Unknown charsets are tolerated; the
// affected parts are kept undecoded.
func Parse(r io.Reader) (*Message, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return FromEntity(e)
}

// FromEntity converts a go-message entity. Transfer encodings are
// decoded by go-message.
func FromEntity(e *message.Entity) (*Message, error) {
	if e == nil {
		return nil, fmt.Errorf("nil entity")
	}
	msg := &Message{Header: headerMap(e.Header)}
	root, err := readPart(e, 0)
	if root != nil {
		msg.Parts = []*Part{root}
	}
	if err != nil {
		return msg, fmt.Errorf("read body: %w", err)
	}
	return msg, nil
}

func headerMap(h message.Header) map[string][]string {
	m := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		k := strings.ToLower(fields.Key())
		m[k] = append(m[k], v)
	}
	return m
}

func readPart(e *message.Entity, depth int) (*Part, error) {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	p := &Part{ContentType: strings.ToLower(mediaType)}

	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxDepth {
			return p, nil
		}
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return p, err
			}
			cp, err := readPart(child, depth+1)
			if cp != nil {
				p.Parts = append(p.Parts, cp)
			}
			if err != nil {
				return p, err
			}
		}
		return p, nil
	}

	body, err := io.ReadAll(e.Body)
	p.Body = string(body)
	if err != nil {
		return p, err
	}
	return p, nil
}

// ReadMbox calls fn for every message in an mbox stream, in order. Parse
// errors are handed to fn, which decides whether to continue. A non-nil
// return from fn stops iteration.
func ReadMbox(r io.Reader, fn func(msg *Message, err error) error) error {
	mr := mbox.NewReader(r)
	for {
		raw, err := mr.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read mbox: %w", err)
		}
		msg, err := Parse(raw)
		if err := fn(msg, err); err != nil {
			return err
		}
	}
}
