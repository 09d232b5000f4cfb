package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/artifact"
	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/pdf"
)

// Stage names, as used in logs, metrics and StageError.
const (
	StageRefresh = "refresh"
	StageLookup  = "lookup"
	StageName    = "name"
	StageCopy    = "copy"
	StagePatch   = "patch"
	StageExport  = "export"
	StagePersist = "persist"
	StageArchive = "archive"
)

// DocumentGateway is the document surface the orchestrator drives.
type DocumentGateway interface {
	Lookup(ctx context.Context, token string, template, folder drive.Query) (drive.DocumentRef, drive.DocumentRef, error)
	ListChildren(ctx context.Context, token, folderID, prefix string) ([]drive.DocumentRef, error)
	Copy(ctx context.Context, token, fileID, folderID, name string) (drive.DocumentRef, error)
	Trash(ctx context.Context, token, fileID string) error
	PatchCell(ctx context.Context, token, spreadsheetID, cellRange, value string) error
	Export(ctx context.Context, token, fileID, mimeType string) ([]byte, error)
}

// Refresher renews an expired credential.
type Refresher interface {
	Refresh(ctx context.Context, cred google.Credential) (google.Credential, error)
}

// Journal records the progress of runs.
type Journal interface {
	Begin(ctx context.Context, isoDate string) (string, error)
	Advance(ctx context.Context, id, stage string) error
	RecordCopy(ctx context.Context, id, copyID, name, link string) error
	RecordPath(ctx context.Context, id, path string) error
	Finish(ctx context.Context, id string, runErr error) error
}

// Orchestrator runs lookup, copy, patch, export and persist. Only the lookup
// is retried, and only after an authentication failure that a refresh can
// fix; every later stage has a remote side effect and runs once.
type Orchestrator struct {
	gateway DocumentGateway
	auth    Refresher
	sink    artifact.Sink
	archive artifact.Sink
	journal Journal
	cfg     config.InvoiceConfig
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// runMu serializes runs; credMu guards cred.
	runMu  sync.Mutex
	credMu sync.RWMutex
	cred   google.Credential
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchive also stores every invoice in sink. Archive failures are
// logged and do not fail the run.
func WithArchive(sink artifact.Sink) Option {
	return func(o *Orchestrator) { o.archive = sink }
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the clock used for the proactive refresh check.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator starting from cred.
func New(gateway DocumentGateway, auth Refresher, sink artifact.Sink, cred google.Credential, cfg config.InvoiceConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway: gateway,
		auth:    auth,
		sink:    sink,
		cfg:     cfg,
		cred:    cred,
		metrics: &instrumentation.Metrics{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.ExportMimeType == "" {
		o.cfg.ExportMimeType = config.PDFMimeType
	}
	return o
}

// Credential returns the current credential, including any refresh done
// during Run.
func (o *Orchestrator) Credential() google.Credential {
	o.credMu.RLock()
	defer o.credMu.RUnlock()
	return o.cred
}

// Run produces the invoice for req. Failures before the copy exists are
// returned as classified apperr errors; failures after it are wrapped in a
// *StageError naming the copy.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Artifact, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	rs := o.begin(ctx, req)
	logger := rs.logger

	ctx, span := instrumentation.StartRunSpan(ctx, rs.id)
	art, err := o.run(ctx, rs, req)
	instrumentation.EndSpan(span, err)

	var stageErr *StageError
	switch {
	case err == nil:
		o.metrics.RecordPipelineRun(ctx, instrumentation.RunResultSuccess)
		logger.Info("invoice ready",
			logging.Document(art.Document.ID),
			slog.String("path", art.Path),
			slog.Int("size_bytes", len(art.Bytes)),
		)
	case errors.As(err, &stageErr):
		o.metrics.RecordPipelineRun(ctx, instrumentation.RunResultPartial)
		logger.Error("invoice run failed after creating copy",
			logging.Stage(stageErr.Stage),
			logging.Document(stageErr.Copy.ID),
			logging.Err(stageErr.Err),
		)
	default:
		o.metrics.RecordPipelineRun(ctx, instrumentation.RunResultFailure)
		logger.Error("invoice run failed", logging.Err(err))
	}

	rs.finish(ctx, err)
	return art, err
}

// runState carries the identity of one run. journal is nil when the run is
// not journaled.
type runState struct {
	id      string
	logger  *slog.Logger
	journal Journal
}

func (o *Orchestrator) run(ctx context.Context, rs *runState, req Request) (*Artifact, error) {
	logger := rs.logger
	if o.cred.Expired(o.now()) {
		logger.Info("credential expired, refreshing before lookup")
		if err := o.stage(ctx, rs, StageRefresh, o.refresh); err != nil {
			return nil, err
		}
	}

	var tmpl, folder drive.DocumentRef
	for attempt := 0; ; attempt++ {
		err := o.stage(ctx, rs, StageLookup, func(ctx context.Context) error {
			var err error
			tmpl, folder, err = o.gateway.Lookup(ctx, o.cred.AccessToken, req.Template, req.Folder)
			return err
		})
		if err == nil {
			break
		}
		if !apperr.IsAuthentication(err) || attempt >= o.cfg.MaxAuthRetries {
			return nil, err
		}
		logger.Warn("lookup rejected the access token, refreshing",
			slog.Int("attempt", attempt+1),
			logging.Err(err),
		)
		if err := o.stage(ctx, rs, StageRefresh, o.refresh); err != nil {
			return nil, err
		}
	}
	logger.Debug("lookup complete",
		slog.String("template_id", tmpl.ID),
		slog.String("folder_id", folder.ID),
	)

	var name string
	if err := o.stage(ctx, rs, StageName, func(ctx context.Context) error {
		var err error
		name, err = o.copyName(ctx, logger, folder, req)
		return err
	}); err != nil {
		return nil, err
	}

	var copied drive.DocumentRef
	if err := o.stage(ctx, rs, StageCopy, func(ctx context.Context) error {
		var err error
		copied, err = o.gateway.Copy(ctx, o.cred.AccessToken, tmpl.ID, folder.ID, name)
		return err
	}); err != nil {
		return nil, err
	}
	if copied.Name == "" {
		copied.Name = name
	}
	rs.recordCopy(ctx, copied)
	logger.Info("template copied", logging.Document(copied.ID), slog.String("name", copied.Name))

	if err := o.stage(ctx, rs, StagePatch, func(ctx context.Context) error {
		return o.gateway.PatchCell(ctx, o.cred.AccessToken, copied.ID, o.cfg.CellRange, req.DisplayDate)
	}); err != nil {
		return nil, &StageError{Stage: StagePatch, Copy: &copied, Err: err}
	}

	var data []byte
	if err := o.stage(ctx, rs, StageExport, func(ctx context.Context) error {
		var err error
		data, err = o.gateway.Export(ctx, o.cred.AccessToken, copied.ID, o.cfg.ExportMimeType)
		return err
	}); err != nil {
		return nil, &StageError{Stage: StageExport, Copy: &copied, Err: err}
	}

	var path string
	if err := o.stage(ctx, rs, StagePersist, func(ctx context.Context) error {
		var err error
		path, err = o.sink.Put(ctx, copied.Name, data)
		return err
	}); err != nil {
		return nil, &StageError{Stage: StagePersist, Copy: &copied, Err: err}
	}
	rs.recordPath(ctx, path)

	art := &Artifact{
		Bytes:    data,
		Document: copied,
		Path:     path,
		RunID:    rs.id,
	}

	if o.cfg.InspectPDF && o.cfg.ExportMimeType == config.PDFMimeType {
		summary, err := pdf.Inspect(data)
		if err != nil {
			logger.Warn("exported invoice did not parse as PDF", logging.Err(err))
		} else {
			art.Pages = summary.Pages
		}
	}

	if o.archive != nil {
		_ = o.stage(ctx, rs, StageArchive, func(ctx context.Context) error {
			location, err := o.archive.Put(ctx, copied.Name, data)
			if err != nil {
				logger.Warn("failed to archive invoice", logging.Err(err))
				return err
			}
			art.ArchiveURL = location
			return nil
		})
	}

	return art, nil
}

// stage runs fn as one named pipeline stage: its own span, duration metric
// and journal entry.
func (o *Orchestrator) stage(ctx context.Context, rs *runState, name string, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartStageSpan(ctx, name)
	if rs.journal != nil {
		if err := rs.journal.Advance(ctx, rs.id, name); err != nil {
			rs.logger.Warn("failed to journal stage", logging.Stage(name), logging.Err(err))
		}
	}

	start := time.Now()
	err := fn(ctx)
	o.metrics.RecordStage(ctx, name, instrumentation.StatusFor(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	return err
}

func (o *Orchestrator) refresh(ctx context.Context) error {
	cred, err := o.auth.Refresh(ctx, o.cred)
	if err != nil {
		return err
	}
	o.credMu.Lock()
	o.cred = cred
	o.credMu.Unlock()
	return nil
}

// copyName picks the name of the new copy according to the duplicate policy.
func (o *Orchestrator) copyName(ctx context.Context, logger *slog.Logger, folder drive.DocumentRef, req Request) (string, error) {
	base := o.cfg.NamePrefix + req.ISODate

	switch o.cfg.DuplicatePolicy {
	case config.DuplicateVersion:
		existing, err := o.gateway.ListChildren(ctx, o.cred.AccessToken, folder.ID, base)
		if err != nil {
			return "", err
		}
		return nextFreeName(base, existing), nil

	case config.DuplicateReplace:
		existing, err := o.gateway.ListChildren(ctx, o.cred.AccessToken, folder.ID, base)
		if err != nil {
			return "", err
		}
		for _, doc := range existing {
			if doc.Name != base {
				continue
			}
			if err := o.gateway.Trash(ctx, o.cred.AccessToken, doc.ID); err != nil {
				return "", fmt.Errorf("failed to replace %q (id %s): %w", doc.Name, doc.ID, err)
			}
			logger.Info("trashed previous copy", logging.Document(doc.ID), slog.String("name", doc.Name))
		}
		return base, nil

	default:
		return base, nil
	}
}

// nextFreeName returns base when no existing document uses it, otherwise
// "base (n)" with the smallest free n starting at 2.
func nextFreeName(base string, existing []drive.DocumentRef) string {
	taken := make(map[string]bool, len(existing))
	for _, doc := range existing {
		taken[doc.Name] = true
	}
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func (o *Orchestrator) begin(ctx context.Context, req Request) *runState {
	if o.journal != nil {
		id, err := o.journal.Begin(ctx, req.ISODate)
		if err == nil {
			return &runState{id: id, logger: logging.WithRun(o.logger, id), journal: o.journal}
		}
		o.logger.Warn("failed to journal run start", logging.Err(err))
	}
	id := uuid.New().String()
	return &runState{id: id, logger: logging.WithRun(o.logger, id)}
}

func (rs *runState) finish(ctx context.Context, runErr error) {
	if rs.journal == nil {
		return
	}
	// The outcome is recorded even when the run was cancelled.
	if err := rs.journal.Finish(context.WithoutCancel(ctx), rs.id, runErr); err != nil {
		rs.logger.Warn("failed to journal run outcome", logging.Err(err))
	}
}

func (rs *runState) recordCopy(ctx context.Context, doc drive.DocumentRef) {
	if rs.journal == nil {
		return
	}
	if err := rs.journal.RecordCopy(ctx, rs.id, doc.ID, doc.Name, doc.WebViewLink); err != nil {
		rs.logger.Warn("failed to journal copy", logging.Err(err))
	}
}

func (rs *runState) recordPath(ctx context.Context, path string) {
	if rs.journal == nil {
		return
	}
	if err := rs.journal.RecordPath(ctx, rs.id, path); err != nil {
		rs.logger.Warn("failed to journal output path", logging.Err(err))
	}
}
