// Package pipeline runs the invoice workflow against the document gateway.
//
// A run moves through
//
//	Start → Lookup → (Refresh → Lookup)* → Copy → Patch → Export → Persist → Done
//
// The lookup is the only retried stage. It is retried after a refresh only
// when Google rejected the access token (HTTP 401), at most
// InvoiceConfig.MaxAuthRetries times. NotFound and AmbiguousMatch surface
// immediately. Copy, Patch, Export and Persist change remote or local state
// and run exactly once; a failure after the copy exists is returned as a
// *StageError that names the orphaned copy.
//
// Example usage:
//
//	orch := pipeline.New(gw, auth, artifact.NewFileSink(dir), cred, cfg.Invoice)
//	art, err := orch.Run(ctx, pipeline.NewRequest(cfg, time.Now()))
package pipeline
