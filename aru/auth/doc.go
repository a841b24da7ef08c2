// Package auth decides whether a verified caller may move funds out of an
// account. Verifying who the caller is happens elsewhere (see package jwt);
// this package only consumes the resulting Identity.
package auth
