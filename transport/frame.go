// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/overseer/lib/codec"
)

// Kind identifies a control-channel frame. Values are protocol
// constants — changing them breaks overseer↔worker compatibility.
type Kind uint8

const (
	// KindHello is the worker's announcement after connecting. The
	// overseer treats it as node-up.
	KindHello Kind = 1

	// KindPair is the worker's pairing callback after its release
	// started: it registers the worker-side control endpoint.
	KindPair Kind = 2

	// KindTelemetry is an unsolicited worker→overseer status message.
	KindTelemetry Kind = 3

	// KindGoodbye is the worker's notice that its user-code process
	// exited. The overseer treats it as an exit of the paired
	// endpoint, not as a transport loss.
	KindGoodbye Kind = 4

	// KindPing and KindPong are keep-alives. Either side may ping;
	// the peer answers with a pong carrying the same sequence number.
	KindPing Kind = 5
	KindPong Kind = 6

	// KindLoadRelease announces a release transfer: metadata first,
	// then KindReleaseChunk frames, then KindReleaseEnd.
	KindLoadRelease  Kind = 7
	KindReleaseChunk Kind = 8
	KindReleaseEnd   Kind = 9

	// KindLoadResult is the worker's report on a release load: either
	// the release was extracted and its entry point started, or the
	// load failed and the overseer should re-drive it.
	KindLoadResult Kind = 10
)

// String returns the frame kind's wire-protocol name.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindPair:
		return "pair"
	case KindTelemetry:
		return "telemetry"
	case KindGoodbye:
		return "goodbye"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindLoadRelease:
		return "load_release"
	case KindReleaseChunk:
		return "release_chunk"
	case KindReleaseEnd:
		return "release_end"
	case KindLoadResult:
		return "load_result"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MaxFrameSize bounds a single encoded frame. Release chunks are the
// largest legitimate frames; ChunkSize plus envelope overhead fits
// comfortably.
const MaxFrameSize = 4 << 20

// ChunkSize is the release transfer chunk size. Large enough to keep
// the frame count reasonable for a 200 MB release, small enough that a
// single frame never approaches MaxFrameSize.
const ChunkSize = 1 << 20

// Frame is the control-channel envelope: a kind tag plus a CBOR body
// whose shape depends on the kind.
type Frame struct {
	Kind Kind             `cbor:"kind"`
	Body codec.RawMessage `cbor:"body,omitempty"`
}

// NewFrame encodes body and wraps it in a Frame of the given kind.
func NewFrame(kind Kind, body any) (Frame, error) {
	if body == nil {
		return Frame{Kind: kind}, nil
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	return Frame{Kind: kind, Body: encoded}, nil
}

// Decode unmarshals the frame body into v.
func (f Frame) Decode(v any) error {
	if err := codec.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("decoding %s body: %w", f.Kind, err)
	}
	return nil
}

// Hello is the body of a KindHello frame.
type Hello struct {
	// Name is the worker identity assigned at spawn
	// (e.g. "w-4f2a9c@host-1").
	Name string `cbor:"name"`

	// OverseerID is the identity of the overseer the worker believes
	// it is connecting to. A mismatch is rejected at accept time.
	OverseerID string `cbor:"overseer_id"`
}

// Pair is the body of a KindPair frame.
type Pair struct {
	Name       string `cbor:"name"`
	EndpointID string `cbor:"endpoint_id"`
}

// Telemetry is the body of a KindTelemetry frame. The payload stays
// encoded until it reaches the user callback.
type Telemetry struct {
	Name      string           `cbor:"name"`
	Payload   codec.RawMessage `cbor:"payload"`
	Timestamp time.Time        `cbor:"timestamp"`
}

// Goodbye is the body of a KindGoodbye frame.
type Goodbye struct {
	Name   string `cbor:"name"`
	Reason string `cbor:"reason,omitempty"`
}

// Ping is the body of KindPing and KindPong frames.
type Ping struct {
	Seq uint64 `cbor:"seq"`
}

// LoadRelease is the body of a KindLoadRelease frame. It precedes the
// chunked artifact bytes.
type LoadRelease struct {
	// Size is the artifact byte count; the worker verifies the
	// received total against it.
	Size int64 `cbor:"size"`

	// Digest is the hex BLAKE3 digest of the artifact. The worker
	// refuses to start a release whose bytes do not match.
	Digest string `cbor:"digest"`

	// Compression is the archive compression name ("zstd", "lz4",
	// or "none" for a plain tar).
	Compression string `cbor:"compression"`

	// EntryModule and EntryFunction name the optional entry point; the
	// worker passes them as arguments to the release's start script.
	EntryModule   string `cbor:"entry_module,omitempty"`
	EntryFunction string `cbor:"entry_function,omitempty"`
}

// ReleaseChunk is the body of a KindReleaseChunk frame.
type ReleaseChunk struct {
	Data []byte `cbor:"data"`
}

// LoadResult is the body of a KindLoadResult frame.
type LoadResult struct {
	Name string `cbor:"name"`

	// OK is true when the release was verified, extracted, and its
	// entry point started. On success the worker follows up with a
	// KindPair frame once its control endpoint is open.
	OK bool `cbor:"ok"`

	// Error describes the failure when OK is false.
	Error string `cbor:"error,omitempty"`
}
