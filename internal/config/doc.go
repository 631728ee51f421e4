// Package config loads the gateway's JSON configuration file, fills in
// defaults relative to the file's directory and applies the two environment
// overrides for the RPC endpoint and the contract address.
package config
