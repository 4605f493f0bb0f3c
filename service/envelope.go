package service

import (
	"encoding/json"
	"fmt"

	"github.com/nimtier/tiermem/codec"
)

// encodeEnvelope/decodeEnvelope round-trip a codec.Envelope to the
// opaque byte payload the Vector Gateway stores, so the gateway never
// needs to know about the codec's internal shape.
func encodeEnvelope(e codec.Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (codec.Envelope, error) {
	var e codec.Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return codec.Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return e, nil
}
