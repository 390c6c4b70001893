package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const compressedPrefix = "z:"

// Codec turns cached entries into the string stored in durable storage.
// Compressed payloads are zstd frames in base64 behind a "z:" prefix; Decode accepts both forms.
type Codec struct {
	compress bool
}

// NewJSONCodec stores plain JSON
func NewJSONCodec() *Codec {
	return &Codec{}
}

// NewZstdCodec stores zstd-compressed JSON
func NewZstdCodec() *Codec {
	return &Codec{compress: true}
}

// Encode serialises v
func (c *Codec) Encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding cache entries: %w", err)
	}
	if !c.compress {
		return string(data), nil
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return "", fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return "", fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("closing encoder: %w", err)
	}
	return compressedPrefix + base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// Decode parses a value produced by Encode
func (c *Codec) Decode(raw string, v interface{}) error {
	data := []byte(raw)
	if strings.HasPrefix(raw, compressedPrefix) {
		frame, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, compressedPrefix))
		if err != nil {
			return fmt.Errorf("decoding base64: %w", err)
		}
		decoder, err := zstd.NewReader(bytes.NewReader(frame))
		if err != nil {
			return fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()

		data, err = io.ReadAll(decoder)
		if err != nil {
			return fmt.Errorf("decompressing: %w", err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding cache entries: %w", err)
	}
	return nil
}
