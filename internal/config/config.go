package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Duplicate-name policies for same-day runs.
const (
	// DuplicateAllow always copies with the base name, leaving same-named copies side by side.
	DuplicateAllow = "allow"

	// DuplicateVersion appends " (n)" to the name when the base name is taken.
	DuplicateVersion = "version"

	// DuplicateReplace trashes existing same-named copies before copying.
	DuplicateReplace = "replace"
)

// Google OAuth endpoints and the out-of-band redirect.
const (
	DefaultAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenURL    = "https://oauth2.googleapis.com/token"
	DefaultRedirectURL = "urn:ietf:wg:oauth:2.0:oob"
)

// MIME types of the Google Workspace objects the pipeline works with.
const (
	SpreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	FolderMimeType      = "application/vnd.google-apps.folder"
	PDFMimeType         = "application/pdf"
)

// Config represents the complete application configuration.
type Config struct {
	OAuth           OAuthConfig   `yaml:"oauth"`
	CredentialsPath string        `yaml:"credentials_path"`
	Template        LookupConfig  `yaml:"template"`
	Folder          LookupConfig  `yaml:"folder"`
	Invoice         InvoiceConfig `yaml:"invoice"`
	Email           EmailConfig   `yaml:"email"`
	HTTP            HTTPConfig    `yaml:"http"`
	Log             LogConfig     `yaml:"log"`
	Ledger          LedgerConfig  `yaml:"ledger"`
	Archive         ArchiveConfig `yaml:"archive"`
}

// OAuthConfig holds the OAuth2 client registration.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// LookupConfig names a Drive object by exact name and MIME type.
type LookupConfig struct {
	Name     string `yaml:"name"`
	MimeType string `yaml:"mime_type"`
}

// InvoiceConfig controls how the dated copy is named, patched and exported.
type InvoiceConfig struct {
	NamePrefix        string `yaml:"name_prefix"`
	CellRange         string `yaml:"cell_range"`
	DisplayDateFormat string `yaml:"display_date_format"`
	ISODateFormat     string `yaml:"iso_date_format"`
	ExportMimeType    string `yaml:"export_mime_type"`
	OutputDir         string `yaml:"output_dir"`
	DuplicatePolicy   string `yaml:"duplicate_policy"`
	MaxAuthRetries    int    `yaml:"max_auth_retries"`
	InspectPDF        bool   `yaml:"inspect_pdf"`
}

// EmailConfig controls the outbound message.
type EmailConfig struct {
	Recipient string `yaml:"recipient"`
	Confirm   bool   `yaml:"confirm"`
	Boundary  string `yaml:"boundary"`
}

// HTTPConfig controls outbound HTTP behavior. The endpoint overrides exist
// for tests and proxies; empty means the public Google endpoints.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	DriveEndpoint  string        `yaml:"drive_endpoint"`
	SheetsEndpoint string        `yaml:"sheets_endpoint"`
	GmailEndpoint  string        `yaml:"gmail_endpoint"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig controls the run history database. Empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig controls the optional GCS copy of every rendered invoice.
// Empty bucket disables it.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		OAuth: OAuthConfig{
			AuthURL:     DefaultAuthURL,
			TokenURL:    DefaultTokenURL,
			RedirectURL: DefaultRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/drive",
				"https://www.googleapis.com/auth/gmail.send",
			},
		},
		CredentialsPath: "./scratch/tokens.json",
		Template: LookupConfig{
			Name:     "Invoice Template",
			MimeType: SpreadsheetMimeType,
		},
		Folder: LookupConfig{
			Name:     "Invoices",
			MimeType: FolderMimeType,
		},
		Invoice: InvoiceConfig{
			NamePrefix:        "Invoice-",
			CellRange:         "Sheet1!B2:C2",
			DisplayDateFormat: "January 2, 2006",
			ISODateFormat:     "2006-01-02",
			ExportMimeType:    PDFMimeType,
			OutputDir:         "./scratch/invoices",
			DuplicatePolicy:   DuplicateAllow,
			MaxAuthRetries:    1,
			InspectPDF:        true,
		},
		Email: EmailConfig{
			Confirm:  true,
			Boundary: "invoicer-boundary-7d1f3c2a9b",
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Ledger: LedgerConfig{
			Path: "./scratch/runs.db",
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("oauth.client_id is required (or set GOOGLE_CLIENT_ID)"))
	}
	if c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("oauth.client_secret is required (or set GOOGLE_CLIENT_SECRET)"))
	}
	if c.OAuth.TokenURL == "" || c.OAuth.AuthURL == "" {
		errs = append(errs, errors.New("oauth.auth_url and oauth.token_url are required"))
	}
	if len(c.OAuth.Scopes) == 0 {
		errs = append(errs, errors.New("oauth.scopes must not be empty"))
	}
	if c.CredentialsPath == "" {
		errs = append(errs, errors.New("credentials_path is required"))
	}
	if c.Template.Name == "" || c.Folder.Name == "" {
		errs = append(errs, errors.New("template.name and folder.name are required"))
	}
	if c.Invoice.CellRange == "" {
		errs = append(errs, errors.New("invoice.cell_range is required"))
	}
	if c.Invoice.OutputDir == "" {
		errs = append(errs, errors.New("invoice.output_dir is required"))
	}
	switch c.Invoice.DuplicatePolicy {
	case DuplicateAllow, DuplicateVersion, DuplicateReplace:
	default:
		errs = append(errs, fmt.Errorf("invoice.duplicate_policy %q must be one of: allow, version, replace", c.Invoice.DuplicatePolicy))
	}
	if c.Invoice.MaxAuthRetries < 0 {
		errs = append(errs, errors.New("invoice.max_auth_retries must not be negative"))
	}
	if c.Email.Recipient == "" {
		errs = append(errs, errors.New("email.recipient is required (or set INVOICER_RECIPIENT)"))
	} else if _, err := mail.ParseAddress(c.Email.Recipient); err != nil {
		errs = append(errs, fmt.Errorf("email.recipient %q is not a valid address: %w", c.Email.Recipient, err))
	}
	if strings.ContainsAny(c.Email.Boundary, " \r\n\"") || c.Email.Boundary == "" {
		errs = append(errs, errors.New("email.boundary must be a non-empty token without spaces or quotes"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}

	return errors.Join(errs...)
}
