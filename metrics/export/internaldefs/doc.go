// Package internaldefs holds the shared counter definitions consumed by the
// otel and prometheus exporters. Not part of the public API.
package internaldefs
