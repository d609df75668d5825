// Package jwt signs and parses the access tokens that reference issued
// sessions. Tokens carry the session id; authorization state stays
// server-side.
package jwt
