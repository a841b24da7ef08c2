// Package aru holds the process-wide plumbing shared by the ledger packages:
// request-scoped tracking (logger, tracer, request id, metrics) carried in
// context.Context, and environment-driven configuration for the ledgerd
// service.
package aru
