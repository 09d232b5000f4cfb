package google

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the persisted OAuth2 token bundle.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Scopes returns the granted scopes.
func (c Credential) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Expired reports whether the credential has a known expiry that has passed.
// A credential without an expiry is never considered expired; the API will
// answer 401 instead.
func (c Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Before(c.Expiry)
}

// Token returns the credential as an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    tokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// fromToken converts a token endpoint response. Fields the response omits
// are filled from prior: the refresh token and the scope are never replaced
// with an empty value.
func fromToken(tok *oauth2.Token, prior Credential, now time.Time) Credential {
	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}

	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if tok.ExpiresIn > 0 {
		cred.ExpiresIn = tok.ExpiresIn
	} else if !tok.Expiry.IsZero() {
		cred.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}

	if cred.RefreshToken == "" {
		cred.RefreshToken = prior.RefreshToken
	}
	if cred.Scope == "" {
		cred.Scope = prior.Scope
	}
	if cred.TokenType == "" {
		cred.TokenType = prior.TokenType
	}
	return cred
}
