package order

import (
	"encoding/json"
	"testing"
)

func TestAmountTokens(t *testing.T) {
	tests := []struct {
		name string
		in   Amount
		want string
	}{
		{"small number", NumberAmount(200), "200"},
		{"base units number", NumberAmount(50_000_000), "50"},
		{"boundary number", NumberAmount(1_000_000), "1"},
		{"just below boundary", NumberAmount(999_999), "999999"},
		{"integer string base units", StringAmount("50000000"), "50"},
		{"decimal string stays human", StringAmount("50000000.0"), "50000000"},
		{"small string", StringAmount("12.5"), "12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Tokens()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("want %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestAmountInvalid(t *testing.T) {
	if _, err := (Amount{}).Tokens(); err == nil {
		t.Fatalf("missing amount should fail")
	}
	if _, err := StringAmount("abc").Tokens(); err == nil {
		t.Fatalf("non-numeric amount should fail")
	}
}

func TestRequestUnmarshalKeepsAmountForm(t *testing.T) {
	var r Request
	raw := `{"request_id":"r1","token":"T1","side":"BUY","size_in":"50000000","size_out":125.5}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	in, _ := r.SizeIn.Tokens()
	out, _ := r.SizeOut.Tokens()
	if in.String() != "50" || out.String() != "125.5" {
		t.Fatalf("unexpected sizes in=%s out=%s", in, out)
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]interface{}
	_ = json.Unmarshal(b, &back)
	if back["size_in"] != "50000000" || back["size_out"] != 125.5 {
		t.Fatalf("amount form not preserved: %s", b)
	}
}
