// Package archive persists observed process variable samples to SQLite.
//
// Every monitor event the bridge sees is appended to the pv_samples
// table in its rendered text form together with the encoding tag, so
// readers can reconstruct the typed value. The store also serves
// time-range queries for the HTTP API and supports pruning old rows.
//
// The store is an append-only log; samples are never updated in place.
package archive
