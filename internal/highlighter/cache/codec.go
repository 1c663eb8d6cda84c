package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how cached values are compressed. Every stored value
// records its own compression, so changing it never invalidates old entries.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "none", "lz4" or "zstd"; empty means zstd.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown cache compression %q", name)
	}
}

// Value layout: [compression uint8][raw length uint32 LE][payload].
const headerSize = 5

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)

	errShortValue = errors.New("cached value shorter than its header")
)

func encode(c Compression, raw []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(raw))
	binary.LittleEndian.PutUint32(out[1:], uint32(len(raw)))
	switch c {
	case CompressionZstd:
		out[0] = byte(CompressionZstd)
		return encoder.EncodeAll(raw, out)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err == nil && n > 0 && n < len(raw) {
			out[0] = byte(CompressionLZ4)
			return append(out, buf[:n]...)
		}
	}
	out[0] = byte(CompressionNone)
	return append(out, raw...)
}

func decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errShortValue
	}
	size := int(binary.LittleEndian.Uint32(data[1:]))
	payload := data[headerSize:]
	switch Compression(data[0]) {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("stored %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		raw := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4: decompressed %d bytes, want %d", n, size)
		}
		return raw, nil
	case CompressionZstd:
		raw, err := decoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if len(raw) != size {
			return nil, fmt.Errorf("zstd: decompressed %d bytes, want %d", len(raw), size)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", data[0])
	}
}
