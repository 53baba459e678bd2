// Package memory provides an in-process implementation of storage.TransactionStore
// and storage.ClientStore.
//
// Pending authorization transactions live only in memory. A background sweep
// removes transactions older than the transaction TTL so abandoned logins do not
// accumulate, and Get/Consume treat expired entries as absent.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	id, err := store.Begin(ctx, &storage.Transaction{ClientID: "client"})
package memory
