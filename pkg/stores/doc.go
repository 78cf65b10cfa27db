// Package stores keeps the build history of irfc in SQLite. Every compile or
// check run can be recorded with its outcome, fingerprint and diagnostic
// counts. The history is informational only and never influences the
// produced IRF.
package stores
