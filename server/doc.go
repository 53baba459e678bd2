// Package server implements the protocol logic of the stateless Galaxy OAuth
// provider.
//
// The Server type coordinates:
//   - Pending authorization transactions (storage.TransactionStore)
//   - Registered clients (storage.ClientStore)
//   - Sealed codes and tokens (token package)
//   - The Galaxy login check (galaxy package)
//
// Authorization codes, access tokens and refresh tokens are never stored.
// Each is a sealed claims payload that carries the user's Galaxy API key, so
// validating a token is a decrypt plus a type, expiry and client check, and
// revocation cannot take effect before expiry.
//
// Example usage:
//
//	codec, _ := token.NewCodecFromSecret(secret, logger)
//	store := memory.New()
//
//	srv, err := server.New(codec, store, store, nil, &server.Config{
//	    BaseURL:   "https://mcp.example.org",
//	    GalaxyURL: "https://usegalaxy.org",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
