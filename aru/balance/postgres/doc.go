// Package postgres stores balances in PostgreSQL.
//
// Client manages a primary and a read replica behind dbresolver and applies
// the embedded schema migrations on connect. Store runs each update in a
// primary transaction that first takes transaction-scoped advisory locks on
// the touched accounts, in sorted order.
package postgres
