// Package drive wraps the Google Drive v3 API calls invoicer needs: finding
// the template and destination folder, copying the template, listing and
// trashing same-named copies, exporting a rendered copy and reading the
// account identity.
//
// Every call takes the bearer token explicitly and is bounded by the
// client's timeout. Errors are classified with apperr: a non-2xx response is
// KindRemote carrying the status and body, a network failure or expired
// deadline is KindTransport.
package drive
