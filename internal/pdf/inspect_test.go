package pdf

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal document with the given number of empty pages
// and a correct cross-reference table.
func buildPDF(pages int) []byte {
	var objects []string
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
	)
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	for _, pages := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d pages", pages), func(t *testing.T) {
			data := buildPDF(pages)
			summary, err := Inspect(data)
			require.NoError(t, err)
			assert.Equal(t, pages, summary.Pages)
			assert.Equal(t, len(data), summary.Size)
		})
	}
}

func TestInspect_NotPDF(t *testing.T) {
	_, err := Inspect([]byte("<html>login required</html>"))
	assert.ErrorIs(t, err, ErrNotPDF)

	_, err = Inspect(nil)
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestInspect_Truncated(t *testing.T) {
	data := buildPDF(1)
	_, err := Inspect(data[:20])
	assert.Error(t, err)
}
