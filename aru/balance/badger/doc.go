// Package badger stores balances in an embedded BadgerDB key-value store.
//
// Each account is one key under the "balance/" prefix holding an 8-byte
// big-endian value. Updates run in a single Badger read-write transaction and
// are retried with jittered backoff when Badger reports a conflict.
package badger
