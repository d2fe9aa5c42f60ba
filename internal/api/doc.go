// Package api defines the transport payloads exchanged between the snagd
// HTTP server and its clients, plus converters from internal types.
package api
