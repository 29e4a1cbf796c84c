// Package notify delivers integrity-signed progress events to a remote
// webhook endpoint.
//
// Delivery is best-effort and fire-and-forget: each event gets exactly one
// POST attempt with a bounded timeout, the outcome is only logged, and the
// caller's control flow never depends on it. Events may arrive out of order;
// receivers should order by the embedded timestamp, not by arrival.
package notify
