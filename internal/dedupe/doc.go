// Package dedupe makes dashboard mutations idempotent. A client that
// retries a form submit with the same Idempotency-Key gets the original
// response back instead of creating a second record, and a duplicate sent
// while the first is still running is refused.
package dedupe
