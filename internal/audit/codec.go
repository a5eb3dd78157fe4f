// Package audit records what the billing engine did with every webhook.
//
// Events are emitted fire-and-forget into a bounded in-process queue and
// fanned out to the configured sinks (Postgres, SQS, a Redis stream,
// CloudWatch, the log). A full queue drops the event with a warning rather
// than delaying the webhook response.
package audit

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// maxPayloadBytes bounds decompressed payloads. Webhook bodies are capped at
// the HTTP edge well below this.
const maxPayloadBytes = 1 << 20

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxMemory(maxPayloadBytes),
			)
			if err != nil {
				// This should never fail with nil input and static options.
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		encoder = e
	})
	return encoder
}

// CompressPayload zstd-compresses a raw webhook body. Empty input yields nil.
func CompressPayload(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return getEncoder().EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	d := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(d)

	out, err := d.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: decompress payload: %w", err)
	}
	return out, nil
}
