// Package cli implements the notifymail command line: argument validation,
// configuration loading, a single dispatch and the mapping of its outcome to
// a status line and exit code.
package cli
