// Package callback provides the loopback redirect listener used by desktop
// front-ends to capture the authorization-code redirect of an OIDC
// authorization code flow, without requiring a public endpoint.
package callback
