// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package cache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressThreshold is the payload size above which Compress takes effect.
const DefaultCompressThreshold = 4 * 1024

// Stored payloads start with a one-byte header naming the encoding.
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

var errCorruptPayload = errors.New("corrupt cache payload")

var (
	// EncodeAll and DecodeAll are safe for concurrent use.
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodePayload prefixes value with its encoding header, compressing it when
// asked and when it exceeds threshold.
func encodePayload(value []byte, compress bool, threshold int) []byte {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if compress && len(value) > threshold {
		out := make([]byte, 1, len(value)/2+1)
		out[0] = encodingZstd
		return zstdEncoder.EncodeAll(value, out)
	}
	out := make([]byte, 0, len(value)+1)
	out = append(out, encodingRaw)
	return append(out, value...)
}

func decodePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errCorruptPayload
	}
	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingZstd:
		out, err := zstdDecoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress cache payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", errCorruptPayload, data[0])
	}
}
