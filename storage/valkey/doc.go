// Package valkey provides a Valkey (Redis-compatible) backend for the client
// registry and the pending authorization transactions.
//
// Use it when several replicas serve the same public URL: a user may start the
// authorization on one replica and submit the login form to another, so the
// transaction has to be visible to both.
//
// # Key Schema
//
// All keys use a configurable prefix (default "galaxy-mcp:"):
//
//	{prefix}client:{clientID}   -> JSON(storage.Client)
//	{prefix}clients             -> SET of registered client ids
//	{prefix}txn:{transactionID} -> JSON(storage.Transaction), with EX = transaction TTL
//
// Transactions are consumed with GETDEL, so concurrent logins against the same
// transaction observe it at most once across all replicas.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package valkey
