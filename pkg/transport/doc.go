// Package transport fetches search result pages from the gateway.
//
// HTTPClient sends each request with the leasing account's session cookies
// (auth_token and ct0), its CSRF header and, when set, its proxy. HTTP
// statuses are classified with pkg/errors so callers can tell a throttled
// account (rate_limited) from a dead session (auth_failure) from a blip
// worth retrying (transient).
//
// FakeFeed serves fixed result lists from memory for tests and dry runs.
package transport
