// Package system provides the process-wide logging setup for notifymail and
// logger helpers shared by tests.
package system
