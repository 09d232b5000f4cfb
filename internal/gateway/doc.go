// Package gateway joins the Drive and Sheets clients into the document
// operations an invoice run needs: lookup, copy, cell patch, export and
// identity. Calls are stateless and never refresh tokens.
package gateway
