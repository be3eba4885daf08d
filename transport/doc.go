// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries the overseer↔worker control channel.
//
// A worker, once its host is provisioned and its shim process running,
// dials back to the overseer and completes a HELLO announcement; from
// then on the channel carries the pairing handshake, release transfer
// frames, keep-alive pings, and telemetry. The overseer derives its
// node-up, node-down, and exit lifecycle events from this channel:
// HELLO means node-up, a read failure means node-down, and an explicit
// GOODBYE while paired means the worker's user code exited. The
// overseer answers keep-alive pings but does not time out a connection
// that goes silent; only a failed read produces node-down.
//
// The wire format is length-prefixed CBOR frames (uint32 big-endian
// length, then a CBOR envelope, see [Frame]) over mutually
// authenticated TLS: the overseer presents a server certificate, the
// worker a client certificate, both issued by the embedding
// application's fleet CA. [MemoryNetwork] provides an in-process
// implementation of the same contract for tests.
package transport
