// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. The same control frame always produces
// identical bytes, which keeps frame sizes predictable and makes
// telemetry payloads safe to compare byte-wise in tests.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are ignored so an older overseer can talk to a newer
// worker shim and vice versa.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Telemetry payloads are decoded into any-typed values by
		// embedding applications. The CBOR default concrete type for
		// maps is map[interface{}]interface{}; map[string]any is what
		// Go code handling telemetry actually expects, and the wire
		// protocol never uses non-string map keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. Telemetry envelopes carry
// their payload as a RawMessage so the controller can relay it to the
// user callback without decoding it.
type RawMessage = cbor.RawMessage
