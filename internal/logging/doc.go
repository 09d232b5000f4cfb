// Package logging provides structured logging utilities for invoicer.
//
// Logging goes through the standard library's slog package. This package
// builds the process logger from configuration (New) and keeps attribute
// naming consistent across the codebase.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "pipeline.run")
//	logger.Info("copy created",
//	    logging.Stage("copy"),
//	    logging.Document(ref.ID))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("email dispatched", logging.UserHash(recipient))
//	logger.Debug("token refreshed", "access_token", logging.SanitizeToken(tok))
//
// # Security Considerations
//
//   - Email addresses are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
