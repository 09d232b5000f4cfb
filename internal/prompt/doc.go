// Package prompt models the human-in-the-loop reads (the OAuth authorization
// code and the send confirmation) as an injectable Prompter so callers can be
// driven by a script in tests.
package prompt
