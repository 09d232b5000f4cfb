// Package config loads the invoicer configuration.
//
// Configuration is a YAML file (default invoicer.yaml, overridable with
// --config or INVOICER_CONFIG) decoded over built-in defaults. ${VAR}
// references in the file are expanded from the environment, and the OAuth
// client credentials and recipient fall back to GOOGLE_CLIENT_ID,
// GOOGLE_CLIENT_SECRET and INVOICER_RECIPIENT.
//
// The loaded *Config is constructed once at process start and passed to
// every component; there is no package-level configuration state.
//
// Example:
//
//	oauth:
//	  client_id: ${GOOGLE_CLIENT_ID}
//	  client_secret: ${GOOGLE_CLIENT_SECRET}
//	template:
//	  name: Invoice Template
//	folder:
//	  name: Invoices
//	invoice:
//	  cell_range: Sheet1!B2:C2
//	  duplicate_policy: version
//	email:
//	  recipient: billing@example.com
package config
