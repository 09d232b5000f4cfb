package pipeline

import (
	"time"

	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/drive"
)

// Request describes one invoice run. It is built once from the run's
// timestamp and never changes.
type Request struct {
	Template    drive.Query
	Folder      drive.Query
	DisplayDate string
	ISODate     string
}

// NewRequest derives the run request from cfg and the run timestamp.
func NewRequest(cfg *config.Config, now time.Time) Request {
	return Request{
		Template:    drive.Query{Name: cfg.Template.Name, MimeType: cfg.Template.MimeType},
		Folder:      drive.Query{Name: cfg.Folder.Name, MimeType: cfg.Folder.MimeType},
		DisplayDate: now.Format(cfg.Invoice.DisplayDateFormat),
		ISODate:     now.Format(cfg.Invoice.ISODateFormat),
	}
}

// Artifact is the rendered invoice. Bytes is exactly what was written to
// Path and what gets emailed.
type Artifact struct {
	Bytes      []byte
	Document   drive.DocumentRef
	Path       string
	RunID      string
	Pages      int
	ArchiveURL string
}
