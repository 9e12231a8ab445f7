package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type finding struct {
	ID       int    `json:"id"`
	Severity string `json:"severity"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := finding{ID: 42, Severity: "high"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out finding
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeWritesOneLinePerValue(t *testing.T) {
	buf := &bytes.Buffer{}
	for i := 0; i < 3; i++ {
		if err := Encode(buf, finding{ID: i}); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Fatalf("expected 3 lines, got %d", lines)
	}
}

func TestUnmarshalRejectsInvalidJSON(t *testing.T) {
	var out finding
	if err := Unmarshal([]byte(`{"id":`), &out); err == nil {
		t.Fatal("expected error for truncated input")
	}
}
