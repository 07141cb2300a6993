package jsoncodec

import (
	"strings"
	"testing"
)

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := smsPayload{To: "+1234567890", Message: "Your code is 1234"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out smsPayload
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
	if !strings.Contains(string(indented), "\n  \"to\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestConvertMapToStruct(t *testing.T) {
	var out smsPayload
	err := Convert(map[string]any{"to": "+1", "message": "hi", "extra": true}, &out)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if out.To != "+1" || out.Message != "hi" {
		t.Fatalf("unexpected result %#v", out)
	}
}
