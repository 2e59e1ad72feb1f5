package telemetry

import (
	"encoding/json"
	"fmt"
	"mime"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the payload encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// Payload is the body of every telemetry POST.
type Payload struct {
	Ping        bool `json:"ping" cbor:"ping"`
	Temperature int  `json:"temperature" cbor:"temperature"`
	Humidity    int  `json:"humidity" cbor:"humidity"`
}

// Encoder renders a [Payload].
type Encoder interface {
	ContentType() string
	Encode(p Payload) ([]byte, error)
	Decode(data []byte) (Payload, error)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	cborDec, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// NewEncoder returns the encoder for f. Empty selects JSON.
func NewEncoder(f Format) (Encoder, error) {
	switch f {
	case "", FormatJSON:
		return jsonEncoder{}, nil
	case FormatCBOR:
		return cborEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown payload format %q (expected json or cbor)", f)
	}
}

// EncoderFor returns the encoder matching a Content-Type header value.
// Parameters such as charset are ignored.
func EncoderFor(contentType string) (Encoder, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	switch mediaType {
	case "application/json":
		return jsonEncoder{}, nil
	case "application/cbor":
		return cborEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

type jsonEncoder struct{}

func (jsonEncoder) ContentType() string { return "application/json" }

// Encode yields exactly {"ping":true,"temperature":T,"humidity":H}.
func (jsonEncoder) Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func (jsonEncoder) Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode json payload: %w", err)
	}
	return p, nil
}

type cborEncoder struct{}

func (cborEncoder) ContentType() string { return "application/cbor" }

func (cborEncoder) Encode(p Payload) ([]byte, error) {
	return cborEnc.Marshal(p)
}

func (cborEncoder) Decode(data []byte) (Payload, error) {
	var p Payload
	if err := cborDec.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode cbor payload: %w", err)
	}
	return p, nil
}
