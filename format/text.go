package format

import "fmt"

// Text passes strings through as UTF-8 bytes and rejects everything else.
var Text Formatter = textFormatter{}

type textFormatter struct{}

func (textFormatter) Name() string { return "text" }

func (textFormatter) ContentType() string { return "text/plain" }

func (textFormatter) Encode(v interface{}) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	default:
		return nil, fmt.Errorf("format: text encode: unsupported type %T", v)
	}
}

func (textFormatter) Decode(data []byte) (interface{}, error) {
	return string(data), nil
}
