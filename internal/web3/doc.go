// Package web3 houses blockchain connectivity types shared by the chain
// clients and the proof gateway: the contract backend and node account
// interfaces, the eth_sendTransaction argument object, log subscriptions and
// the YAML chain definition file.
package web3
