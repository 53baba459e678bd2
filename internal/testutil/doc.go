// Package testutil provides fixtures, a fake Galaxy API server and small
// assertion helpers shared by the package tests.
package testutil
