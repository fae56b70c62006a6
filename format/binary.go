package format

import "fmt"

// Binary is the pass-through formatter and the default for producers and
// consumers: bodies go on the wire untouched.
var Binary Formatter = binaryFormatter{}

type binaryFormatter struct{}

func (binaryFormatter) Name() string { return "binary" }

func (binaryFormatter) ContentType() string { return "application/octet-stream" }

func (binaryFormatter) Encode(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("format: binary encode: unsupported type %T", v)
	}
}

func (binaryFormatter) Decode(data []byte) (interface{}, error) {
	return data, nil
}
