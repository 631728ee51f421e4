// Package api exposes the proof gateway over HTTP/JSON: reading proofs,
// submitting storeProof and transfer transactions, gas quotes and the
// transaction ledger.
package api
