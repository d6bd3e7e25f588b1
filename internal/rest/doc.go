// Package rest is the small slice of the platform's HTTP API the gateway
// client depends on: discovering the gateway entry URL and sending messages.
//
// Requests go to {base}/v{api_version}{path} with an Authorization header of
// token prefix plus token (default prefix "Bot "). Non-2xx responses become
// an *HTTPError carrying the status code, so callers can tell rejected
// credentials (401, 403) from other failures. No retry or rate limit handling
// is done here.
package rest
