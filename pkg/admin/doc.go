// Package admin exposes the management HTTP API: upload-position
// allocation, file uploads, version lifecycle, metadata, garbage
// collection, reload, and inspection endpoints. Every route except
// /healthz and /metrics requires the configured bearer token.
package admin
