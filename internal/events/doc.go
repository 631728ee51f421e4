// Package events carries contract completion events out of the gateway.
// Publishers are write-only: nothing downstream can influence the outcome of
// a contract call.
package events
