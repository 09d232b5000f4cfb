package gateway

import (
	"context"

	"github.com/teemow/invoicer/internal/drive"
	"github.com/teemow/invoicer/internal/sheets"
)

// Gateway is the single document surface the pipeline talks to. It keeps no
// credential state; every call carries the bearer token to use.
type Gateway struct {
	drive  *drive.Client
	sheets *sheets.Client
}

// New composes a Drive and a Sheets client.
func New(driveClient *drive.Client, sheetsClient *sheets.Client) *Gateway {
	return &Gateway{drive: driveClient, sheets: sheetsClient}
}

// Lookup finds exactly one template and one destination folder.
func (g *Gateway) Lookup(ctx context.Context, token string, template, folder drive.Query) (drive.DocumentRef, drive.DocumentRef, error) {
	return g.drive.Lookup(ctx, token, template, folder)
}

// ListChildren lists the files in folderID whose names start with prefix.
func (g *Gateway) ListChildren(ctx context.Context, token, folderID, prefix string) ([]drive.DocumentRef, error) {
	return g.drive.ListChildren(ctx, token, folderID, prefix)
}

// Copy copies fileID into folderID under name.
func (g *Gateway) Copy(ctx context.Context, token, fileID, folderID, name string) (drive.DocumentRef, error) {
	return g.drive.Copy(ctx, token, fileID, folderID, name)
}

// Trash moves fileID to the trash.
func (g *Gateway) Trash(ctx context.Context, token, fileID string) error {
	return g.drive.Trash(ctx, token, fileID)
}

// PatchCell writes value into cellRange of spreadsheetID.
func (g *Gateway) PatchCell(ctx context.Context, token, spreadsheetID, cellRange, value string) error {
	return g.sheets.UpdateCell(ctx, token, spreadsheetID, cellRange, value)
}

// Export renders fileID as mimeType.
func (g *Gateway) Export(ctx context.Context, token, fileID, mimeType string) ([]byte, error) {
	return g.drive.Export(ctx, token, fileID, mimeType)
}

// Identity returns the authenticated account.
func (g *Gateway) Identity(ctx context.Context, token string) (drive.Identity, error) {
	return g.drive.Identity(ctx, token)
}
