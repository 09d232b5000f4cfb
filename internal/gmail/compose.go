package gmail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/teemow/invoicer/internal/drive"
)

// DefaultBoundary separates the parts of every composed message.
const DefaultBoundary = "invoicer-boundary-7d1f3c2a9b"

// base64LineLength is the maximum encoded line length (RFC 2045).
const base64LineLength = 76

// Message is a composed RFC 822 message ready to be sent raw. From and To
// hold the bare addresses.
type Message struct {
	From           string
	To             string
	Subject        string
	AttachmentName string
	raw            []byte
}

// Bytes returns the wire form of the message. Every line ends in CRLF.
func (m *Message) Bytes() []byte {
	return m.raw
}

// ContentLength is the byte length of the whole message, which is what the
// Content-Length of the upload must carry.
func (m *Message) ContentLength() int64 {
	return int64(len(m.raw))
}

type composeOptions struct {
	boundary       string
	body           string
	subject        string
	attachmentName string
}

// ComposeOption customizes Compose.
type ComposeOption func(*composeOptions)

// WithBoundary sets the multipart boundary token.
func WithBoundary(boundary string) ComposeOption {
	return func(o *composeOptions) { o.boundary = boundary }
}

// WithBody replaces the plain-text part.
func WithBody(body string) ComposeOption {
	return func(o *composeOptions) { o.body = body }
}

// WithSubject replaces the subject line.
func WithSubject(subject string) ComposeOption {
	return func(o *composeOptions) { o.subject = subject }
}

// WithAttachmentName replaces the attachment filename.
func WithAttachmentName(name string) ComposeOption {
	return func(o *composeOptions) { o.attachmentName = name }
}

// Subject is the default subject for an invoice dated isoDate.
func Subject(identity drive.Identity, isoDate string) string {
	return fmt.Sprintf("Invoice %s from %s", isoDate, senderName(identity))
}

// AttachmentName is the default attachment filename for isoDate.
func AttachmentName(isoDate string) string {
	return "Invoice-" + isoDate + ".pdf"
}

func defaultBody(identity drive.Identity, isoDate string) string {
	return fmt.Sprintf("Hello,\n\nplease find attached the invoice dated %s.\n\nBest regards,\n%s\n", isoDate, senderName(identity))
}

func senderName(identity drive.Identity) string {
	if identity.DisplayName != "" {
		return identity.DisplayName
	}
	return identity.EmailAddress
}

// Compose builds a multipart/mixed message from identity to recipient with a
// text part and pdf attached as base64.
func Compose(identity drive.Identity, pdf []byte, isoDate, recipient string, opts ...ComposeOption) (*Message, error) {
	if identity.EmailAddress == "" {
		return nil, errors.New("sender email address is required")
	}
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}
	if len(pdf) == 0 {
		return nil, errors.New("attachment is empty")
	}

	o := composeOptions{
		boundary:       DefaultBoundary,
		body:           defaultBody(identity, isoDate),
		subject:        Subject(identity, isoDate),
		attachmentName: AttachmentName(isoDate),
	}
	for _, opt := range opts {
		opt(&o)
	}

	from := (&mail.Address{Name: identity.DisplayName, Address: identity.EmailAddress}).String()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(o.boundary); err != nil {
		return nil, fmt.Errorf("invalid boundary %q: %w", o.boundary, err)
	}

	// Headers
	writeHeader(&buf, "From", from)
	writeHeader(&buf, "To", to.String())
	writeHeader(&buf, "Subject", encodeRFC2047(o.subject))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": o.boundary}))
	buf.WriteString("\r\n")

	// Text part
	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	qp := quotedprintable.NewWriter(textPart)
	if _, err := qp.Write([]byte(o.body)); err != nil {
		return nil, fmt.Errorf("failed to encode text part: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode text part: %w", err)
	}

	// Attachment part
	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType("application/pdf", map[string]string{"name": o.attachmentName})},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": o.attachmentName})},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := attachment.Write(wrapBase64(pdf)); err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	return &Message{
		From:           identity.EmailAddress,
		To:             to.Address,
		Subject:        o.subject,
		AttachmentName: o.attachmentName,
		raw:            buf.Bytes(),
	}, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// wrapBase64 encodes data as base64 split into CRLF-terminated lines.
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)

	var out strings.Builder
	out.Grow(len(encoded) + 2*(len(encoded)/base64LineLength+1))
	for len(encoded) > base64LineLength {
		out.WriteString(encoded[:base64LineLength])
		out.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	out.WriteString(encoded)
	out.WriteString("\r\n")
	return []byte(out.String())
}

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047
// when it contains non-ASCII characters.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
