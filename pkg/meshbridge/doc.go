// Package meshbridge defines the boundary between a retasync node and the
// mesh daemon that actually moves envelopes between identities.
//
// Implementations live in internal/meshbridge: a gRPC client for a running
// daemon, an in-memory double for tests, and a loopback daemon server.
package meshbridge
