package auth

import "github.com/impulsar/lib-aru/aru/balance"

// Identity is a caller whose credentials were already verified.
type Identity struct {
	Account balance.AccountID
}

// Anonymous is the zero Identity. It owns nothing.
var Anonymous = Identity{}

// IsAnonymous reports whether id carries no account.
func (id Identity) IsAnonymous() bool {
	return id.Account == ""
}

// Authorizer reports whether caller may debit source. It must be pure: no
// I/O and no dependence on balances.
type Authorizer func(caller Identity, source balance.AccountID) bool

// SameAccount allows a caller to debit only its own account.
func SameAccount(caller Identity, source balance.AccountID) bool {
	return !caller.IsAnonymous() && caller.Account == source
}

// Delegated allows a caller to debit its own account and any account listed
// for it in grants.
func Delegated(grants map[balance.AccountID][]balance.AccountID) Authorizer {
	return func(caller Identity, source balance.AccountID) bool {
		if SameAccount(caller, source) {
			return true
		}

		if caller.IsAnonymous() {
			return false
		}

		for _, allowed := range grants[caller.Account] {
			if allowed == source {
				return true
			}
		}

		return false
	}
}
