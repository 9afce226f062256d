// Package history records defacing runs in a small SQLite ledger.
//
// Every call to the pipeline (a defacing run or a batch application of its
// mask) appends one row with its inputs, outcome and timing. The ledger backs
// the "deface history" command. Recording is best effort: callers log a
// failure and carry on. Schema changes bump the version in schema.go; users
// delete the database to adopt the new schema.
package history
