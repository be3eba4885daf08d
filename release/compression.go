// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package release

import "fmt"

// Compression identifies a release archive's compression. The name
// travels in the LoadRelease control frame so the worker picks the
// matching decompressor without sniffing.
type Compression uint8

const (
	// CompressionNone is a plain tar archive.
	CompressionNone Compression = 0

	// CompressionZstd is a zstd-compressed tar. The usual choice:
	// good ratios on the mixed binary/beam/config content of a
	// release at fast decode speeds.
	CompressionZstd Compression = 1

	// CompressionLZ4 is an lz4-compressed tar, for fleets that trade
	// artifact size for cheaper worker-side decompression.
	CompressionLZ4 Compression = 2
)

// Archive magic numbers.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// DetectCompression classifies an artifact by its leading bytes.
// Anything that is neither zstd nor lz4 framed is treated as a plain
// tar; a corrupt header surfaces later as a tar read error.
func DetectCompression(header []byte) Compression {
	if len(header) >= 4 {
		if matchesMagic(header, zstdMagic) {
			return CompressionZstd
		}
		if matchesMagic(header, lz4Magic) {
			return CompressionLZ4
		}
	}
	return CompressionNone
}

func matchesMagic(header, magic []byte) bool {
	for i, b := range magic {
		if header[i] != b {
			return false
		}
	}
	return true
}

// String returns the compression's wire-protocol name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// CompressionFromName parses a wire-protocol compression name.
func CompressionFromName(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}
