// Package sqlite stores balances in an embedded SQLite database through the
// pure-Go modernc.org/sqlite driver. The schema is applied with
// golang-migrate from migrations embedded in the binary.
package sqlite
