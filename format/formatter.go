// Package format provides pluggable encoding and decoding of message bodies.
// Formatters are selected by name at configuration time; encoding is applied
// transparently around the raw transport payload.
package format

import (
	"fmt"
	"sync"

	"github.com/glimte/rabbitline/contracts"
)

// Formatter encodes values to message bodies and decodes bodies back into
// values. Encode fails on input the formatter cannot represent.
type Formatter interface {
	// Name returns the registry name of the formatter.
	Name() string

	// ContentType returns the MIME type stamped on encoded messages.
	ContentType() string

	// Encode converts a value into a message body.
	Encode(v interface{}) ([]byte, error)

	// Decode converts a message body back into a value.
	Decode(data []byte) (interface{}, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Formatter)
)

// Register adds a formatter to the registry. Registering a name twice with a
// different formatter is an error.
func Register(f Formatter) error {
	if f == nil {
		return fmt.Errorf("format: formatter cannot be nil")
	}
	if f.Name() == "" {
		return fmt.Errorf("format: formatter name cannot be empty")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, exists := registry[f.Name()]; exists {
		if existing == f {
			return nil
		}
		return fmt.Errorf("format: formatter %q already registered", f.Name())
	}

	registry[f.Name()] = f
	return nil
}

// Lookup resolves a formatter by name.
func Lookup(name string) (Formatter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contracts.ErrUnknownFormatter, name)
	}
	return f, nil
}

// Names returns all registered formatter names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	for _, f := range []Formatter{JSON, Text, Binary} {
		if err := Register(f); err != nil {
			panic(err)
		}
	}
}
