// Package sheets patches a single cell of a spreadsheet through the Google
// Sheets v4 values.update call.
package sheets
