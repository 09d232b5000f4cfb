package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address so
// recipients can be labelled without exploding metric cardinality.
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "unknown"
	}
	return domain
}

// Operation names for Google API metrics and spans.
const (
	OperationList     = "list"
	OperationCopy     = "copy"
	OperationExport   = "export"
	OperationAbout    = "about"
	OperationTrash    = "trash"
	OperationUpdate   = "update"
	OperationSend     = "send"
	OperationExchange = "exchange"
	OperationRefresh  = "refresh"
)
