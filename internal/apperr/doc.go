// Package apperr defines the failure taxonomy shared by every invoicer component.
//
// Errors produced at a collaborator boundary (OAuth token endpoint, Google
// APIs, the credential file) are wrapped in *Error with a Kind. Callers match
// kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrNotFound) {
//	    // template or folder missing
//	}
//
// IsAuthentication singles out the one failure a token refresh can repair.
package apperr
