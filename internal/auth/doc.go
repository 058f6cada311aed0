// Package auth holds the vocabulary shared by the request gate: the
// identity attached to an authenticated request, the failure taxonomy, and
// the header names the gate reads.
//
// Three factors exist. The API key authenticates the calling application
// (package apikey). The session token authenticates a user (package
// session). The Action JWT authorises one deep-link action for one user
// (package actiontoken). Which factors a route requires is decided by
// package policy, never by the factors themselves.
//
// Every failure is an *AuthError carrying the factor and a Kind. Kinds
// match the sentinel errors with errors.Is:
//
//	if errors.Is(err, auth.ErrUnavailable) {
//	    // infrastructure problem, answer 503
//	}
//
// The Kind and Reason exist for audit and metrics only. HTTP responses for
// every non-infrastructure failure are identical.
package auth
