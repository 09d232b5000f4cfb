// Package ledger keeps a SQLite history of invoice runs.
//
// Each run is recorded when it starts, advanced as it passes pipeline stages
// and closed with its outcome. A failed run that already created a copy is
// reported as orphaned so the operator can remove the copy by hand.
package ledger
