// Package google manages the OAuth2 credential used for every Google call.
//
// FileStore persists the Credential as a 0600 JSON file written atomically.
// AuthClient performs the authorization-code bootstrap (with a human pasting
// the code through a prompt.Prompter) and the refresh-token renewal, saving
// every credential it produces. Refresh never drops the stored refresh token
// when the token endpoint omits it, and bootstrap rejects partial scope
// grants before anything is written.
//
// NewHTTPClient builds the shared base client and AuthorizedClient wraps it
// with a fixed bearer token; callers decide when to refresh.
package google
