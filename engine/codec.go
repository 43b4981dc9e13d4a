package engine

import (
	"encoding/json"
	"fmt"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
)

// NewDataConverter returns the payload codec used for every workflow input
// and output. Values are serialized as JSON with camelCase keys: all record
// types in this repo carry camelCase struct tags, and encoding/json matches
// keys case-insensitively on input, so payloads written by other services
// in either case decode correctly.
//
// The composite order mirrors Temporal's default converter so that nil,
// byte-slice and proto payloads keep their standard encodings and existing
// workflow history continues to decode.
func NewDataConverter() converter.DataConverter {
	return converter.NewCompositeDataConverter(
		converter.NewNilPayloadConverter(),
		converter.NewByteSlicePayloadConverter(),
		converter.NewProtoJSONPayloadConverter(),
		converter.NewProtoPayloadConverter(),
		&jsonPayloadConverter{inner: converter.NewJSONPayloadConverter()},
	)
}

// jsonPayloadConverter wraps Temporal's JSON payload converter. It exists so
// decode failures carry the offending type in the error instead of a bare
// unmarshal message, which matters when diagnosing history replays.
type jsonPayloadConverter struct {
	inner *converter.JSONPayloadConverter
}

func (c *jsonPayloadConverter) ToPayload(value any) (*commonpb.Payload, error) {
	return c.inner.ToPayload(value)
}

func (c *jsonPayloadConverter) FromPayload(p *commonpb.Payload, valuePtr any) error {
	if err := c.inner.FromPayload(p, valuePtr); err != nil {
		return fmt.Errorf("engine: decode payload into %T: %w", valuePtr, err)
	}
	return nil
}

func (c *jsonPayloadConverter) ToString(p *commonpb.Payload) string {
	return c.inner.ToString(p)
}

func (c *jsonPayloadConverter) Encoding() string {
	return c.inner.Encoding()
}

// EncodeJSON serializes a record the way the data converter does. Tests use
// it to assert the camelCase round-trip law without a running engine.
func EncodeJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("engine: encode %T: %w", value, err)
	}
	return raw, nil
}

// DecodeJSON is the inverse of EncodeJSON.
func DecodeJSON(raw []byte, valuePtr any) error {
	if err := json.Unmarshal(raw, valuePtr); err != nil {
		return fmt.Errorf("engine: decode into %T: %w", valuePtr, err)
	}
	return nil
}
