package json

import (
	"encoding/json"

	"github.com/go-slark/discovery/encoding"
)

type codec struct{}

func init() {
	encoding.RegisterCodec(codec{})
}

const Name = "json"

// Codec is exported for callers that need the json wire format without a
// registry lookup.
var Codec encoding.Codec = codec{}

func (c codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c codec) Name() string {
	return Name
}
