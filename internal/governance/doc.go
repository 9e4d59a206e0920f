// Package governance holds the runtime safety controls applied to upstream calls:
// the request timeout and the classification of transport failures for logs and
// metrics.
//
// The proxy deliberately performs no retries and no rate limiting; a failed or
// timed-out upstream call is reported once and answered with a generic error.
package governance
