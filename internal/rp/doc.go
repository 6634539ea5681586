// Package rp is the server-side relying party: it runs the authorization
// code flow on behalf of remote browser clients and keeps their sessions in a
// concurrently-accessed store keyed by opaque session identifiers carried in
// cookies.
package rp
