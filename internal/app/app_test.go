package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/invoicer/internal/config"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/ledger"
	"github.com/teemow/invoicer/internal/logging"
	"github.com/teemow/invoicer/internal/prompt"
)

var runDate = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// fakeGoogle serves the Drive, Sheets, Gmail and token routes.
type fakeGoogle struct {
	mu         sync.Mutex
	requests   []string
	expired    map[string]bool
	sent       []byte
	sentLength int64
	refreshes  int
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		f.refreshes++
		_, _ = io.WriteString(w, `{"access_token":"fresh","expires_in":3599,"token_type":"Bearer"}`)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if f.expired[token] {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
		return
	}

	q := r.URL.Query().Get("q")
	switch {
	case r.URL.Path == "/files" && strings.Contains(q, "folder"):
		_, _ = io.WriteString(w, `{"files":[{"id":"F1","name":"Invoices"}]}`)
	case r.URL.Path == "/files":
		_, _ = io.WriteString(w, `{"files":[{"id":"T1","name":"Invoice Template"}]}`)
	case r.URL.Path == "/files/T1/copy":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["name"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "C1", "name": name, "parents": []string{"F1"}})
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/C1/values/"):
		_, _ = io.WriteString(w, `{"updatedCells":1}`)
	case r.URL.Path == "/files/C1/export":
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4 invoice")
	case r.URL.Path == "/about":
		_, _ = io.WriteString(w, `{"user":{"displayName":"Jane Doe","emailAddress":"jane@example.com"}}`)
	case r.URL.Path == "/upload/gmail/v1/users/me/messages/send":
		f.sent, _ = io.ReadAll(r.Body)
		f.sentLength = r.ContentLength
		_, _ = io.WriteString(w, `{"id":"msg-1"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func newTestApp(t *testing.T, fake *fakeGoogle, answer string, initialToken string) *App {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.OAuth.ClientID = "client"
	cfg.OAuth.ClientSecret = "secret"
	cfg.OAuth.TokenURL = srv.URL + "/token"
	cfg.CredentialsPath = filepath.Join(dir, "tokens.json")
	cfg.Invoice.OutputDir = filepath.Join(dir, "invoices")
	cfg.Invoice.InspectPDF = false
	cfg.Ledger.Path = ":memory:"
	cfg.Email.Recipient = "billing@example.com"
	cfg.HTTP.DriveEndpoint = srv.URL + "/"
	cfg.HTTP.SheetsEndpoint = srv.URL + "/"
	cfg.HTTP.GmailEndpoint = srv.URL + "/"
	require.NoError(t, cfg.Validate())

	_, err := google.NewFileStore(cfg.CredentialsPath).Save(google.Credential{
		AccessToken:  initialToken,
		RefreshToken: "refresh",
		Scope:        strings.Join(cfg.OAuth.Scopes, " "),
		TokenType:    "Bearer",
	})
	require.NoError(t, err)

	a, err := New(context.Background(), cfg,
		WithLogger(logging.Discard()),
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return runDate }),
		WithPrompter(prompt.Func(func(context.Context, string) (string, error) { return answer, nil })),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestRunInvoice_SendsAfterConfirmation(t *testing.T) {
	fake := &fakeGoogle{}
	a := newTestApp(t, fake, "yes", "valid")

	res, err := a.RunInvoice(context.Background(), RunOptions{Send: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "msg-1", res.MessageID)

	onDisk, err := os.ReadFile(res.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 invoice", string(onDisk))
	assert.Equal(t, "Invoice-2024-01-15", filepath.Base(res.Artifact.Path))

	assert.Equal(t, int64(len(fake.sent)), fake.sentLength)
	assert.Contains(t, string(fake.sent), "Subject: Invoice 2024-01-15 from Jane Doe\r\n")

	runs, err := a.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusSent, runs[0].Status)
	assert.Equal(t, "msg-1", runs[0].MessageID)
}

func TestRunInvoice_DeclinedConfirmation(t *testing.T) {
	fake := &fakeGoogle{}
	a := newTestApp(t, fake, "n", "valid")

	res, err := a.RunInvoice(context.Background(), RunOptions{Send: true})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Nil(t, fake.sent)
	assert.FileExists(t, res.Artifact.Path)
}

func TestRunInvoice_ConfirmationNamesSender(t *testing.T) {
	fake := &fakeGoogle{}
	a := newTestApp(t, fake, "", "valid")

	var asked []string
	a.Prompter = prompt.Func(func(_ context.Context, question string) (string, error) {
		asked = append(asked, question)
		return "y", nil
	})

	res, err := a.RunInvoice(context.Background(), RunOptions{Send: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	require.Len(t, asked, 1)
	assert.Equal(t, "Send Invoice-2024-01-15.pdf (16 bytes) from Jane Doe <jane@example.com> to billing@example.com? [y/N] ", asked[0])
}

func TestRunInvoice_NoSend(t *testing.T) {
	fake := &fakeGoogle{}
	a := newTestApp(t, fake, "", "valid")

	res, err := a.RunInvoice(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.NotContains(t, fake.requests, "GET /about")
}

func TestRunInvoice_RefreshesExpiredToken(t *testing.T) {
	fake := &fakeGoogle{expired: map[string]bool{"stale": true}}
	a := newTestApp(t, fake, "", "stale")

	res, err := a.RunInvoice(context.Background(), RunOptions{Send: true, AssumeYes: true})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, fake.refreshes)

	stored, err := a.Store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "refresh", stored.RefreshToken)
}

func TestHistory_Disabled(t *testing.T) {
	a := &App{}
	_, err := a.History(context.Background(), 5)
	assert.Error(t, err)
}
