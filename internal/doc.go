// Package internal holds the random-identifier and opaque-token primitives
// shared by the authgate stores. Nothing here is part of the public API.
package internal
