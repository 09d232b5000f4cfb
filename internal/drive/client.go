package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/invoicer/internal/apperr"
	"github.com/teemow/invoicer/internal/google"
	"github.com/teemow/invoicer/internal/instrumentation"
	"github.com/teemow/invoicer/internal/logging"
)

// Client wraps the Google Drive API. It holds no token: every call takes
// the bearer token to use, and token freshness is the caller's concern.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTimeout sets the deadline applied to every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMetrics records API metrics on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Drive client on top of the shared base HTTP client.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		metrics:    &instrumentation.Metrics{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithService(c.logger, instrumentation.ServiceDrive)
	return c
}

func (c *Client) service(ctx context.Context, token string) (*drive.Service, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(google.AuthorizedClient(ctx, c.httpClient, token)),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return svc, nil
}

// call runs fn under a span, the per-call deadline and the API metrics, and
// classifies its error.
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceDrive, operation)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := apperr.FromGoogle("drive."+operation, fn(ctx))
	duration := time.Since(start)

	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceDrive, operation, instrumentation.StatusFor(err), duration)
	instrumentation.EndSpan(span, err)
	c.logger.Debug("drive call",
		logging.Operation(operation),
		slog.Duration(logging.KeyDuration, duration),
		logging.Err(err),
	)
	return err
}

// Lookup finds exactly one template and exactly one folder. Both queries
// are issued concurrently; failures are reported for the template first,
// then the folder. An empty result is apperr.ErrNotFound and more than one
// match is apperr.ErrAmbiguousMatch.
func (c *Client) Lookup(ctx context.Context, token string, template, folder Query) (DocumentRef, DocumentRef, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return DocumentRef{}, DocumentRef{}, err
	}

	var (
		templates, folders []*drive.File
		tErr, fErr         error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		templates, tErr = c.list(gctx, svc, template.String())
		return tErr
	})
	g.Go(func() error {
		folders, fErr = c.list(gctx, svc, folder.String())
		return fErr
	})
	groupErr := g.Wait()

	if err := firstCause(ctx, groupErr, tErr, fErr); err != nil {
		return DocumentRef{}, DocumentRef{}, err
	}

	tmpl, err := single("template", template, templates)
	if err != nil {
		return DocumentRef{}, DocumentRef{}, err
	}
	dir, err := single("folder", folder, folders)
	if err != nil {
		return DocumentRef{}, DocumentRef{}, err
	}
	return tmpl, dir, nil
}

// firstCause returns the first error in order, skipping a cancellation that
// was only caused by the sibling query failing.
func firstCause(parent context.Context, groupErr error, errs ...error) error {
	if groupErr == nil {
		return nil
	}
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) && parent.Err() == nil {
			continue
		}
		return err
	}
	return groupErr
}

func single(kind string, q Query, files []*drive.File) (DocumentRef, error) {
	const op = "drive.lookup"

	switch len(files) {
	case 0:
		return DocumentRef{}, apperr.New(apperr.KindNotFound, op, fmt.Sprintf("no %s named %q", kind, q.Name))
	case 1:
		return convertToDocumentRef(files[0]), nil
	default:
		ids := make([]string, len(files))
		for i, f := range files {
			ids[i] = f.Id
		}
		return DocumentRef{}, apperr.New(apperr.KindAmbiguousMatch, op, fmt.Sprintf(
			"%d files match %s %q: %s", len(files), kind, q.Name, strings.Join(ids, ", ")))
	}
}

func (c *Client) list(ctx context.Context, svc *drive.Service, q string) ([]*drive.File, error) {
	var files []*drive.File
	err := c.call(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		// Two results are enough to detect ambiguity.
		list, err := svc.Files.List().
			Context(ctx).
			Q(q).
			PageSize(2).
			Fields("files(" + documentFields + ")").
			Do()
		if err != nil {
			return err
		}
		files = list.Files
		return nil
	})
	return files, err
}

// ListChildren returns the files in folderID whose name starts with namePrefix.
func (c *Client) ListChildren(ctx context.Context, token, folderID, namePrefix string) ([]DocumentRef, error) {
	if folderID == "" {
		return nil, fmt.Errorf("folderID is required")
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var refs []DocumentRef
	err = c.call(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		return svc.Files.List().
			Q(childrenQuery(folderID, namePrefix)).
			PageSize(100).
			Fields("nextPageToken, files("+documentFields+")").
			Pages(ctx, func(page *drive.FileList) error {
				for _, f := range page.Files {
					if strings.HasPrefix(f.Name, namePrefix) {
						refs = append(refs, convertToDocumentRef(f))
					}
				}
				return nil
			})
	})
	return refs, err
}

// Copy copies fileID into folderID under name.
func (c *Client) Copy(ctx context.Context, token, fileID, folderID, name string) (DocumentRef, error) {
	if fileID == "" || folderID == "" {
		return DocumentRef{}, fmt.Errorf("fileID and folderID are required")
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return DocumentRef{}, err
	}

	var ref DocumentRef
	err = c.call(ctx, instrumentation.OperationCopy, func(ctx context.Context) error {
		f, err := svc.Files.Copy(fileID, &drive.File{
			Name:    name,
			Parents: []string{folderID},
		}).
			Context(ctx).
			Fields(documentFields).
			Do()
		if err != nil {
			return err
		}
		ref = convertToDocumentRef(f)
		return nil
	})
	return ref, err
}

// Trash moves fileID to the trash.
func (c *Client) Trash(ctx context.Context, token, fileID string) error {
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	return c.call(ctx, instrumentation.OperationTrash, func(ctx context.Context) error {
		_, err := svc.Files.Update(fileID, &drive.File{Trashed: true}).
			Context(ctx).
			Fields("id").
			Do()
		return err
	})
}

// Export renders fileID as mimeType and returns the whole body.
func (c *Client) Export(ctx context.Context, token, fileID, mimeType string) ([]byte, error) {
	if fileID == "" {
		return nil, fmt.Errorf("fileID is required")
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.call(ctx, instrumentation.OperationExport, func(ctx context.Context) error {
		resp, err := svc.Files.Export(fileID, mimeType).Context(ctx).Download()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read export of %s: %w", fileID, err)
		}
		return nil
	})
	return data, err
}

// Identity returns the display name and address of the authenticated account.
func (c *Client) Identity(ctx context.Context, token string) (Identity, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return Identity{}, err
	}

	var id Identity
	err = c.call(ctx, instrumentation.OperationAbout, func(ctx context.Context) error {
		about, err := svc.About.Get().
			Context(ctx).
			Fields(googleapi.Field("user(displayName,emailAddress)")).
			Do()
		if err != nil {
			return err
		}
		if about.User == nil || about.User.EmailAddress == "" {
			return apperr.New(apperr.KindDecode, "drive.about", "response has no user email address")
		}
		id = Identity{
			DisplayName:  about.User.DisplayName,
			EmailAddress: about.User.EmailAddress,
		}
		return nil
	})
	return id, err
}
