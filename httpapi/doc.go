// Package httpapi exposes the engine's login, second factor, and token
// lifecycle flows over HTTP. It owns transport concerns only: request
// decoding, client IP extraction, CSRF enforcement order, and the mapping
// from engine sentinels onto status codes and machine-readable reasons.
package httpapi
