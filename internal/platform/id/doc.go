// Package id generates identifiers for upstream request ids.
//
// Identifiers are UUIDv4 bytes encoded as lowercase base32 (RFC 4648)
// without padding, 26 characters long. QBO accepts them as the requestid
// query parameter that deduplicates retried writes on its side.
package id
