// Package proofs is the contract gateway for the proof registry contract.
//
// Every contract function the gateway touches is described by an Operation
// descriptor. A descriptor states whether the function is a constant call or
// a transaction, which completion event the contract emits for it, how the
// gas estimate is scaled and whether the sending account is locked again
// after submission. The Gateway drives the unlock, estimate, send sequence
// from those descriptors, while a separate listener follows the completion
// events and forwards them to an events.Publisher without ever feeding back
// into a call's result.
package proofs
