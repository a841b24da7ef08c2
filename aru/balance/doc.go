// Package balance defines the ledger's balance store: a durable mapping from
// account to a non-negative integer amount of ARU units, where accounts that
// were never written hold zero.
//
// Backends implement Store. Multi-account changes go through Store.Update,
// which gives the callback exclusive access to the named accounts and commits
// every write it stages, or none of them.
package balance
