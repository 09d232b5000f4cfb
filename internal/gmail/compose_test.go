package gmail

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/invoicer/internal/drive"
)

var testIdentity = drive.Identity{DisplayName: "Jane Doe", EmailAddress: "jane@example.com"}

func samplePDF(n int) []byte {
	data := make([]byte, n)
	copy(data, "%PDF-1.4\n")
	for i := 9; i < n; i++ {
		data[i] = byte(i % 251)
	}
	return data
}

func TestCompose_RoundTrip(t *testing.T) {
	pdf := samplePDF(4096)

	msg, err := Compose(testIdentity, pdf, "2024-01-15", "billing@example.com")
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(msg.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, `"Jane Doe" <jane@example.com>`, parsed.Header.Get("From"))
	assert.Equal(t, "<billing@example.com>", parsed.Header.Get("To"))
	assert.Equal(t, "Invoice 2024-01-15 from Jane Doe", parsed.Header.Get("Subject"))
	assert.Equal(t, "1.0", parsed.Header.Get("MIME-Version"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)
	assert.Equal(t, DefaultBoundary, params["boundary"])

	mr := multipart.NewReader(parsed.Body, params["boundary"])

	text, err := mr.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, `text/plain; charset="UTF-8"`, text.Header.Get("Content-Type"))
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), "2024-01-15")

	attachment, err := mr.NextRawPart()
	require.NoError(t, err)
	assert.Equal(t, "base64", attachment.Header.Get("Content-Transfer-Encoding"))
	assert.Equal(t, "Invoice-2024-01-15.pdf", attachment.FileName())
	ct, _, err := mime.ParseMediaType(attachment.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ct)

	encoded, err := io.ReadAll(attachment)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimRight(string(encoded), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), base64LineLength)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)

	_, err = mr.NextRawPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompose_CRLFOnly(t *testing.T) {
	msg, err := Compose(testIdentity, samplePDF(1000), "2024-01-15", "billing@example.com",
		WithBody("line one\nline two\n"))
	require.NoError(t, err)

	raw := msg.Bytes()
	for i, b := range raw {
		if b == '\n' {
			require.Greater(t, i, 0)
			require.Equal(t, byte('\r'), raw[i-1], "bare LF at offset %d", i)
		}
	}
	assert.True(t, bytes.HasSuffix(raw, []byte("--"+DefaultBoundary+"--\r\n")) ||
		bytes.HasSuffix(raw, []byte("--"+DefaultBoundary+"--")))
}

func TestCompose_ContentLengthIsMessageLength(t *testing.T) {
	pdf := samplePDF(2048)
	msg, err := Compose(testIdentity, pdf, "2024-01-15", "billing@example.com")
	require.NoError(t, err)

	assert.Equal(t, int64(len(msg.Bytes())), msg.ContentLength())
	assert.Greater(t, msg.ContentLength(), int64(len(pdf)))
}

func TestCompose_NonASCIISubject(t *testing.T) {
	id := drive.Identity{DisplayName: "Jürgen Müller", EmailAddress: "juergen@example.com"}
	msg, err := Compose(id, samplePDF(100), "2024-01-15", "billing@example.com")
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(msg.Bytes()))
	require.NoError(t, err)

	rawSubject := parsed.Header.Get("Subject")
	assert.True(t, strings.HasPrefix(rawSubject, "=?UTF-8?b?"), rawSubject)

	decoded, err := new(mime.WordDecoder).DecodeHeader(rawSubject)
	require.NoError(t, err)
	assert.Equal(t, "Invoice 2024-01-15 from Jürgen Müller", decoded)
	assert.Equal(t, "Invoice 2024-01-15 from Jürgen Müller", msg.Subject)
}

func TestCompose_Options(t *testing.T) {
	msg, err := Compose(testIdentity, samplePDF(100), "2024-01-15", "Billing <billing@example.com>",
		WithBoundary("custom-boundary"),
		WithSubject("March invoice"),
		WithAttachmentName("march.pdf"),
	)
	require.NoError(t, err)

	raw := string(msg.Bytes())
	assert.Contains(t, raw, "boundary=custom-boundary")
	assert.Contains(t, raw, "Subject: March invoice\r\n")
	assert.Contains(t, raw, "filename=march.pdf")
	assert.Equal(t, "billing@example.com", msg.To)
	assert.Contains(t, raw, "To: \"Billing\" <billing@example.com>\r\n")
	assert.Equal(t, "march.pdf", msg.AttachmentName)
}

func TestCompose_Validation(t *testing.T) {
	tests := []struct {
		name      string
		identity  drive.Identity
		pdf       []byte
		recipient string
		opts      []ComposeOption
	}{
		{name: "missing sender", identity: drive.Identity{DisplayName: "x"}, pdf: samplePDF(10), recipient: "a@example.com"},
		{name: "bad recipient", identity: testIdentity, pdf: samplePDF(10), recipient: "not an address"},
		{name: "empty pdf", identity: testIdentity, recipient: "a@example.com"},
		{name: "bad boundary", identity: testIdentity, pdf: samplePDF(10), recipient: "a@example.com", opts: []ComposeOption{WithBoundary("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.identity, tt.pdf, "2024-01-15", tt.recipient, tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestWrapBase64(t *testing.T) {
	out := string(wrapBase64(samplePDF(200)))
	lines := strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
	require.Len(t, lines, 4)
	for _, line := range lines[:3] {
		assert.Len(t, line, base64LineLength)
	}
}

func TestEncodeRFC2047(t *testing.T) {
	assert.Equal(t, "plain", encodeRFC2047("plain"))
	assert.NotEqual(t, "Grüße", encodeRFC2047("Grüße"))
}
