package google

import (
	gmail "google.golang.org/api/gmail/v1"
)

// Scopes invoicer needs: Drive for lookup, copy and export (Sheets accepts
// the Drive scope for values.update) and Gmail send for the dispatch.
const (
	ScopeDrive     = "https://www.googleapis.com/auth/drive"
	ScopeGmailSend = gmail.GmailSendScope
)

// DefaultScopes are requested when the configuration does not override them.
var DefaultScopes = []string{
	ScopeDrive,
	ScopeGmailSend,
}

// missingScopes returns the required scopes absent from granted.
func missingScopes(granted, required []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}

	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
