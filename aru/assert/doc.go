// Package assert evaluates runtime invariants and reports violations through
// logs, span events and a failure counter instead of panicking.
//
// Ledger code uses it to check post-conditions such as conservation of units
// before an atomic unit commits.
package assert
