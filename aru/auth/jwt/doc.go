// Package jwt verifies HMAC-signed bearer tokens with golang-jwt and turns
// their subject into an auth.Identity.
package jwt
