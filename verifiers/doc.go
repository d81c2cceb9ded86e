// Package verifiers holds reference verifiers and decorators shared by the
// per-kind verifier packages. Static and Func exist mostly for tests and
// local wiring; Recording persists every settled outcome.
package verifiers
