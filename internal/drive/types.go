package drive

import (
	"strings"

	drive "google.golang.org/api/drive/v3"
)

// documentFields is the projection requested for every file.
const documentFields = "id, name, mimeType, parents, webViewLink"

// DocumentRef identifies a Drive file: the template, the destination folder
// or a generated copy. It is never modified after the API returns it.
type DocumentRef struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	Parents     []string `json:"parents,omitempty"`
	WebViewLink string   `json:"webViewLink,omitempty"`
}

// Identity is the authenticated account.
type Identity struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Query selects files by exact name and MIME type, excluding trashed files.
type Query struct {
	Name     string
	MimeType string
}

// String renders the query in the Drive search syntax.
func (q Query) String() string {
	clauses := []string{"name='" + escape(q.Name) + "'"}
	if q.MimeType != "" {
		clauses = append(clauses, "mimeType='"+escape(q.MimeType)+"'")
	}
	clauses = append(clauses, "trashed = false")
	return strings.Join(clauses, " and ")
}

// childrenQuery selects the non-trashed files in folderID.
func childrenQuery(folderID, namePrefix string) string {
	q := "'" + escape(folderID) + "' in parents and trashed = false"
	if namePrefix != "" {
		q += " and name contains '" + escape(namePrefix) + "'"
	}
	return q
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func escape(s string) string {
	return queryEscaper.Replace(s)
}

// convertToDocumentRef converts a Drive API File to a DocumentRef
func convertToDocumentRef(f *drive.File) DocumentRef {
	return DocumentRef{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Parents:     f.Parents,
		WebViewLink: f.WebViewLink,
	}
}
