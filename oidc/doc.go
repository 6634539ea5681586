// Package oidc implements the client side of the OpenID Connect
// Authorization Code flow with PKCE (RFC 7636) against a fixed set of
// providers (Microsoft and Google).
//
// Primary types provided by the package
//
// * Provider: one configured OIDC provider. It builds authorization URLs,
// exchanges authorization codes for tokens and fetches userinfo claims.
//
// * Request: represents one pending authorization attempt. It owns the
// attempt's CSRF state and PKCE code verifier, which are single-use and are
// discarded with the Request when the attempt ends (successfully or not).
//
// * Token: an access-token lease with its issuance time and declared
// lifetime. Once a lease expires the whole flow is restarted; there is no
// refresh-token support.
//
// * Registry: the static table of configured Providers.
//
// The oidc/callback package provides the loopback redirect listener used by
// desktop front-ends to capture the authorization-code redirect.
package oidc
