// Package artifact stores rendered invoices.
//
// FileSink is the required local copy: the bytes on disk are exactly the
// bytes that get emailed. GCSSink optionally archives the same bytes in a
// Cloud Storage bucket without ever overwriting an existing object.
package artifact
