package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF is returned when the bytes do not start with a PDF header.
var ErrNotPDF = errors.New("data is not a PDF document")

var header = []byte("%PDF-")

// Summary describes an exported invoice document.
type Summary struct {
	Pages int
	Size  int
}

// Inspect parses data and returns its page count. Validation is relaxed
// so that minor producer quirks do not fail the run.
func Inspect(data []byte) (Summary, error) {
	if !bytes.HasPrefix(data, header) {
		return Summary{}, ErrNotPDF
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read page count: %w", err)
	}
	if pages < 1 {
		return Summary{}, fmt.Errorf("document has no pages")
	}
	return Summary{Pages: pages, Size: len(data)}, nil
}
