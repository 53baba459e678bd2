// Package storage defines the two pieces of server-side state the Galaxy OAuth
// provider keeps: pending authorization transactions that bridge the browser
// login back into the OAuth flow, and the registry of dynamically registered
// clients.
//
// Tokens are never stored. They are self-contained encrypted payloads (see the
// token package).
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process transactions with a TTL sweep, and an in-memory client store
//   - storage/file: the client registry persisted as a JSON file
//   - storage/valkey: Valkey/Redis-compatible backend for both, for multi-replica deployments
//   - storage/mock: function-field mocks for unit tests
package storage
