// Package cache provides the tenant-scoped two-tier cache of warden.
//
// The persistent tier stores encoded values in an adapter.Store under keys
// derived by the keys package. The request tier is a map carried by a
// context (see WithRequestCache) and lives as long as one request.
//
// Values are encoded by a Codec. The default JSONCodec writes scalars as
// plain literals and everything else as JSON, tagging every Map so that it
// comes back as a Map after a round trip through the string-only store.
package cache
