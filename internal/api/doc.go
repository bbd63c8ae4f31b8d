// Package api implements the HTTP REST API for pvgate.
//
// This package provides:
//   - REST endpoints for device group inspection and tagged PV reads/writes
//   - Sample history queries backed by the archive store
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// The API server sits beside the MQTT bridge as a second command surface:
// both drive the same device groups, so a write accepted over HTTP produces
// the same monitor event (and retained MQTT state) as one accepted over
// MQTT. Reads always go to the live gateway session; only /samples is
// served from the local archive.
//
// # Graceful Degradation
//
// The server operates without an archive store — PV reads and writes work,
// only sample history queries fail. This enables running without SQLite.
package api
