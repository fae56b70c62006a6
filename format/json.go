package format

import (
	"encoding/json"
	"fmt"
)

// JSON encodes values with encoding/json and decodes bodies into generic Go
// values (maps, slices and scalars).
var JSON Formatter = jsonFormatter{}

type jsonFormatter struct{}

func (jsonFormatter) Name() string { return "json" }

func (jsonFormatter) ContentType() string { return "application/json" }

func (jsonFormatter) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("format: json encode: %w", err)
	}
	return data, nil
}

func (jsonFormatter) Decode(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("format: json decode: %w", err)
	}
	return v, nil
}
