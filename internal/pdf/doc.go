// Package pdf sanity-checks exported invoices with pdfcpu.
package pdf
