// Package redis stores balances in Redis as integer strings.
//
// Updates take one redsync distributed lock per touched account, acquired in
// sorted order, then read under WATCH and commit through MULTI/EXEC. A lost
// WATCH (for example after a lock expired under a slow writer) is retried.
package redis
