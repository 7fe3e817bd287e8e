// Package zone reconciles requested multi-room zone topologies against the
// topology speakers actually report.
//
// Zone membership is keyed by hardware address, not IP: a speaker can move
// hosts without breaking its zone identity. The reconciler compares requested
// and observed member sets order-independently, skips mutations that would
// change nothing, and relies on the polling layer to converge observed state
// after each mutation.
package zone
