// Package testutil holds test doubles shared by the engine, backend, harness
// and HTTP tests.
package testutil
