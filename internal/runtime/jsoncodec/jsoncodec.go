// Package jsoncodec is the single JSON implementation used for envelopes on
// every transport, so the wire bytes do not depend on the adapter.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Encode writes v followed by a newline, which keeps CLI output line-delimited.
func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}
