// Package util provides small string helpers shared across packages.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging or error bodies
//   - NormalizeURL: Strips trailing slashes before URL comparison
//   - NormalizeBasePath: Canonicalizes a mount prefix
package util
