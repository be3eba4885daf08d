// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Overseer's standard CBOR encoding configuration.
//
// Every message on the overseer↔worker control channel — the hello and
// pairing handshake, release transfer frames, telemetry envelopes — is
// CBOR encoded through this package, so that both ends encode
// identically without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2); the decoder ignores unknown
// fields for forward compatibility between mismatched overseer and
// worker shim versions.
//
// Internal wire types use `cbor` struct tags:
//
//	type pairFrame struct {
//	    Name       string `cbor:"name"`
//	    EndpointID string `cbor:"endpoint_id"`
//	}
package codec
