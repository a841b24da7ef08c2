// Package log defines the logging interface used across lib-aru and the typed
// fields attached to log events.
//
// Adapters (such as the zap package) implement Logger so ledger components can
// log without binding to a backend.
package log
