// Package mysql keeps the ledger of transactions submitted through the proof
// gateway. Besides the MySQL implementation with embedded schema migrations
// it offers an in-process ledger and a JSON-lines file ledger for development.
package mysql
