package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/artifact"
	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/ledger"
	"github.com/teemow/invoicer/internal/logging"
)

var (
	runDate  = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	pdfBytes = []byte("%PDF-1.4 invoice bytes")
)

type lookupResult struct {
	tmpl, folder drive.DocumentRef
	err          error
}

type fakeGateway struct {
	mu        sync.Mutex
	lookups   []lookupResult
	children  []drive.DocumentRef
	copyErr   error
	patchErr  error
	exportErr error

	calls   []string
	tokens  []string
	copied  []string
	trashed []string
	patched []string
}

func (g *fakeGateway) record(call, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	g.tokens = append(g.tokens, token)
}

func (g *fakeGateway) Lookup(_ context.Context, token string, _, _ drive.Query) (drive.DocumentRef, drive.DocumentRef, error) {
	g.record("lookup", token)
	// The last scripted result repeats.
	r := g.lookups[0]
	if len(g.lookups) > 1 {
		g.lookups = g.lookups[1:]
	}
	return r.tmpl, r.folder, r.err
}

func (g *fakeGateway) ListChildren(_ context.Context, token, _, _ string) ([]drive.DocumentRef, error) {
	g.record("list", token)
	return g.children, nil
}

func (g *fakeGateway) Copy(_ context.Context, token, fileID, folderID, name string) (drive.DocumentRef, error) {
	g.record("copy", token)
	if g.copyErr != nil {
		return drive.DocumentRef{}, g.copyErr
	}
	g.copied = append(g.copied, name)
	return drive.DocumentRef{ID: "C1", Name: name, Parents: []string{folderID}}, nil
}

func (g *fakeGateway) Trash(_ context.Context, token, fileID string) error {
	g.record("trash", token)
	g.trashed = append(g.trashed, fileID)
	return nil
}

func (g *fakeGateway) PatchCell(_ context.Context, token, spreadsheetID, cellRange, value string) error {
	g.record("patch", token)
	g.patched = append(g.patched, fmt.Sprintf("%s %s %s", spreadsheetID, cellRange, value))
	return g.patchErr
}

func (g *fakeGateway) Export(_ context.Context, token, fileID, mimeType string) ([]byte, error) {
	g.record("export", token)
	if g.exportErr != nil {
		return nil, g.exportErr
	}
	return pdfBytes, nil
}

type fakeRefresher struct {
	calls int
	err   error
}

func (r *fakeRefresher) Refresh(_ context.Context, cred google.Credential) (google.Credential, error) {
	r.calls++
	if r.err != nil {
		return google.Credential{}, r.err
	}
	cred.AccessToken = fmt.Sprintf("refreshed-%d", r.calls)
	cred.Expiry = time.Time{}
	return cred, nil
}

func found() lookupResult {
	return lookupResult{
		tmpl:   drive.DocumentRef{ID: "T1", Name: "Invoice Template"},
		folder: drive.DocumentRef{ID: "F1", Name: "Invoices"},
	}
}

func unauthorized() lookupResult {
	return lookupResult{err: &apperr.Error{Kind: apperr.KindRemote, Op: "drive.list", Status: http.StatusUnauthorized}}
}

func notFound() lookupResult {
	return lookupResult{err: apperr.New(apperr.KindNotFound, "drive.lookup", `no template named "Invoice Template"`)}
}

func testRequest() Request {
	return NewRequest(config.Default(), runDate)
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, auth *fakeRefresher, opts ...Option) (*Orchestrator, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "invoices")
	cfg := config.Default().Invoice
	cfg.InspectPDF = false

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(gw, auth, artifact.NewFileSink(dir), google.Credential{AccessToken: "initial", RefreshToken: "refresh"}, cfg, opts...), dir
}

func TestNewRequest(t *testing.T) {
	req := testRequest()
	assert.Equal(t, "2024-01-15", req.ISODate)
	assert.Equal(t, "January 15, 2024", req.DisplayDate)
	assert.Equal(t, drive.Query{Name: "Invoice Template", MimeType: config.SpreadsheetMimeType}, req.Template)
	assert.Equal(t, drive.Query{Name: "Invoices", MimeType: config.FolderMimeType}, req.Folder)
}

func TestRun_HappyPath(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{found()}}
	auth := &fakeRefresher{}
	orch, dir := newTestOrchestrator(t, gw, auth)

	art, err := orch.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, pdfBytes, art.Bytes)
	assert.Equal(t, "C1", art.Document.ID)
	assert.Equal(t, "Invoice-2024-01-15", art.Document.Name)
	assert.Equal(t, filepath.Join(dir, "Invoice-2024-01-15"), art.Path)
	assert.NotEmpty(t, art.RunID)

	onDisk, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, art.Bytes, onDisk)

	assert.Equal(t, []string{"lookup", "copy", "patch", "export"}, gw.calls)
	assert.Equal(t, []string{"C1 Sheet1!B2:C2 January 15, 2024"}, gw.patched)
	assert.Equal(t, 0, auth.calls)
}

func TestRun_RecoversFromExpiredToken(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{unauthorized(), found()}}
	auth := &fakeRefresher{}
	orch, _ := newTestOrchestrator(t, gw, auth)

	art, err := orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "C1", art.Document.ID)

	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, []string{"lookup", "lookup", "copy", "patch", "export"}, gw.calls)
	assert.Equal(t, "initial", gw.tokens[0])
	for _, tok := range gw.tokens[1:] {
		assert.Equal(t, "refreshed-1", tok)
	}
	assert.Equal(t, "refreshed-1", orch.Credential().AccessToken)
}

func TestRun_TemplateMissingIsNotRetried(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{notFound()}}
	auth := &fakeRefresher{}
	orch, dir := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 0, auth.calls)
	assert.Equal(t, []string{"lookup"}, gw.calls)
	assert.NoDirExists(t, dir)
}

func TestRun_TemplateMissingAfterRefresh(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{unauthorized(), notFound()}}
	auth := &fakeRefresher{}
	orch, _ := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, []string{"lookup", "lookup"}, gw.calls)
}

func TestRun_AuthRetriesAreBounded(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{unauthorized()}}
	auth := &fakeRefresher{}
	orch, _ := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, apperr.IsAuthentication(err))
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, []string{"lookup", "lookup"}, gw.calls)
}

func TestRun_RefreshFailureSurfaces(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{unauthorized()}}
	auth := &fakeRefresher{err: apperr.New(apperr.KindAuthServer, "oauth.refresh", "invalid_grant")}
	orch, _ := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, apperr.ErrAuthServer)
	assert.Equal(t, []string{"lookup"}, gw.calls)
}

func TestRun_ProactiveRefresh(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{found()}}
	auth := &fakeRefresher{}
	dir := t.TempDir()
	cfg := config.Default().Invoice
	cfg.InspectPDF = false

	cred := google.Credential{AccessToken: "stale", RefreshToken: "refresh", Expiry: runDate.Add(-time.Minute)}
	orch := New(gw, auth, artifact.NewFileSink(dir), cred, cfg,
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return runDate }),
	)

	_, err := orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, "refreshed-1", gw.tokens[0])
}

func TestRun_AmbiguousMatch(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{{err: apperr.New(apperr.KindAmbiguousMatch, "drive.lookup", "2 files match")}}}
	auth := &fakeRefresher{}
	orch, _ := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, apperr.ErrAmbiguousMatch)
	assert.Equal(t, 0, auth.calls)
}

func TestRun_FailuresAfterCopyNameTheCopy(t *testing.T) {
	remote := &apperr.Error{Kind: apperr.KindRemote, Op: "sheets.update", Status: http.StatusBadRequest}

	tests := []struct {
		name  string
		setup func(*fakeGateway)
		stage string
		calls []string
	}{
		{
			name:  "patch",
			setup: func(g *fakeGateway) { g.patchErr = remote },
			stage: StagePatch,
			calls: []string{"lookup", "copy", "patch"},
		},
		{
			name:  "export",
			setup: func(g *fakeGateway) { g.exportErr = remote },
			stage: StageExport,
			calls: []string{"lookup", "copy", "patch", "export"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{lookups: []lookupResult{found()}}
			tt.setup(gw)
			orch, _ := newTestOrchestrator(t, gw, &fakeRefresher{})

			_, err := orch.Run(context.Background(), testRequest())
			require.Error(t, err)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.stage, stageErr.Stage)
			require.NotNil(t, stageErr.Copy)
			assert.Equal(t, "C1", stageErr.Copy.ID)
			assert.Contains(t, err.Error(), "C1")
			assert.ErrorIs(t, err, apperr.ErrRemote)
			assert.Equal(t, tt.calls, gw.calls)
		})
	}
}

func TestRun_CopyFailureIsNotAStageError(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{found()}, copyErr: &apperr.Error{Kind: apperr.KindRemote, Status: http.StatusUnauthorized}}
	auth := &fakeRefresher{}
	orch, _ := newTestOrchestrator(t, gw, auth)

	_, err := orch.Run(context.Background(), testRequest())
	require.Error(t, err)

	var stageErr *StageError
	assert.False(t, errors.As(err, &stageErr))
	assert.Equal(t, 0, auth.calls, "copy is never retried")
	assert.Equal(t, []string{"lookup", "copy"}, gw.calls)
}

func TestRun_PersistFailure(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{found()}}
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg := config.Default().Invoice
	cfg.InspectPDF = false
	orch := New(gw, &fakeRefresher{}, artifact.NewFileSink(filepath.Join(blocker, "invoices")),
		google.Credential{AccessToken: "tok"}, cfg, WithLogger(logging.Discard()))

	_, err := orch.Run(context.Background(), testRequest())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePersist, stageErr.Stage)
}

func TestRun_DuplicatePolicies(t *testing.T) {
	existing := []drive.DocumentRef{
		{ID: "OLD1", Name: "Invoice-2024-01-15"},
		{ID: "OLD2", Name: "Invoice-2024-01-15 (2)"},
		{ID: "OTHER", Name: "Invoice-2024-01-15 draft"},
	}

	tests := []struct {
		policy   string
		children []drive.DocumentRef
		wantName string
		trashed  []string
	}{
		{policy: config.DuplicateAllow, children: existing, wantName: "Invoice-2024-01-15"},
		{policy: config.DuplicateVersion, children: nil, wantName: "Invoice-2024-01-15"},
		{policy: config.DuplicateVersion, children: existing, wantName: "Invoice-2024-01-15 (3)"},
		{policy: config.DuplicateReplace, children: existing, wantName: "Invoice-2024-01-15", trashed: []string{"OLD1"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d existing", tt.policy, len(tt.children)), func(t *testing.T) {
			gw := &fakeGateway{lookups: []lookupResult{found()}, children: tt.children}
			cfg := config.Default().Invoice
			cfg.InspectPDF = false
			cfg.DuplicatePolicy = tt.policy

			orch := New(gw, &fakeRefresher{}, artifact.NewFileSink(t.TempDir()),
				google.Credential{AccessToken: "tok"}, cfg, WithLogger(logging.Discard()))

			art, err := orch.Run(context.Background(), testRequest())
			require.NoError(t, err)
			assert.Equal(t, []string{tt.wantName}, gw.copied)
			assert.Equal(t, tt.wantName, filepath.Base(art.Path))
			assert.Equal(t, tt.trashed, gw.trashed)
		})
	}
}

func TestRun_Journal(t *testing.T) {
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	t.Run("success", func(t *testing.T) {
		gw := &fakeGateway{lookups: []lookupResult{found()}}
		orch, _ := newTestOrchestrator(t, gw, &fakeRefresher{}, WithJournal(l))

		art, err := orch.Run(context.Background(), testRequest())
		require.NoError(t, err)

		run, err := l.Get(context.Background(), art.RunID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, run.Status)
		assert.Equal(t, "C1", run.CopyID)
		assert.Equal(t, art.Path, run.Path)
		assert.Equal(t, StagePersist, run.Stage)
	})

	t.Run("orphaned copy", func(t *testing.T) {
		gw := &fakeGateway{lookups: []lookupResult{found()}, patchErr: errors.New("boom")}
		orch, _ := newTestOrchestrator(t, gw, &fakeRefresher{}, WithJournal(l))

		_, err := orch.Run(context.Background(), testRequest())
		require.Error(t, err)

		runs, err := l.List(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.True(t, runs[0].Orphaned())
		assert.Equal(t, StagePatch, runs[0].Stage)
		assert.Contains(t, runs[0].Error, "boom")
	})
}

type recordingSink struct {
	data []byte
	err  error
}

func (s *recordingSink) Put(_ context.Context, name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.data = data
	return "gs://archive/" + name + ".pdf", nil
}

func TestRun_Archive(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		archive := &recordingSink{}
		gw := &fakeGateway{lookups: []lookupResult{found()}}
		orch, _ := newTestOrchestrator(t, gw, &fakeRefresher{}, WithArchive(archive))

		art, err := orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, "gs://archive/Invoice-2024-01-15.pdf", art.ArchiveURL)
		assert.Equal(t, art.Bytes, archive.data)
	})

	t.Run("failure is not fatal", func(t *testing.T) {
		gw := &fakeGateway{lookups: []lookupResult{found()}}
		orch, _ := newTestOrchestrator(t, gw, &fakeRefresher{}, WithArchive(&recordingSink{err: errors.New("bucket gone")}))

		art, err := orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Empty(t, art.ArchiveURL)
	})
}

func TestRun_InspectionWarningIsNotFatal(t *testing.T) {
	gw := &fakeGateway{lookups: []lookupResult{found()}}
	cfg := config.Default().Invoice
	cfg.InspectPDF = true

	orch := New(gw, &fakeRefresher{}, artifact.NewFileSink(t.TempDir()),
		google.Credential{AccessToken: "tok"}, cfg, WithLogger(logging.Discard()))

	art, err := orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Zero(t, art.Pages)
}

func TestNextFreeName(t *testing.T) {
	base := "Invoice-2024-01-15"
	assert.Equal(t, base, nextFreeName(base, nil))
	assert.Equal(t, base+" (2)", nextFreeName(base, []drive.DocumentRef{{Name: base}}))
	assert.Equal(t, base+" (2)", nextFreeName(base, []drive.DocumentRef{{Name: base}, {Name: base + " (3)"}}))
}

func TestStageError(t *testing.T) {
	cause := apperr.New(apperr.KindRemote, "sheets.update", "bad range")
	err := &StageError{Stage: StagePatch, Copy: &drive.DocumentRef{ID: "C1", Name: "Invoice-2024-01-15"}, Err: cause}

	assert.Contains(t, err.Error(), `patch failed after creating copy "Invoice-2024-01-15" (id C1)`)
	assert.ErrorIs(t, err, apperr.ErrRemote)
	assert.Equal(t, "export failed: boom", (&StageError{Stage: StageExport, Err: errors.New("boom")}).Error())
}
