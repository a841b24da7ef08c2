// Package http exposes the transfer engine over HTTP with fiber: routes,
// request validation, bearer authentication, request correlation and the
// mapping of ledger errors to status codes.
package http
