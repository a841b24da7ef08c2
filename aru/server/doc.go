// Package server runs the ledger HTTP server and tears down its dependencies
// in order when the process is asked to stop.
package server
