package utility

import (
	"testing"
	"time"
)

func TestContains(t *testing.T) {
	if Contains(nil, "a") {
		t.Error("empty slice must not contain anything")
	}
	if Contains([]string{"a", "b"}, "c") {
		t.Error("unexpected match for c")
	}
	if !Contains([]string{"a", "b"}, "b") {
		t.Error("expected match for b")
	}
}

func TestWhToKwh(t *testing.T) {
	tests := map[int]string{
		0:     "0.0",
		99:    "0.0",
		1234:  "1.2",
		15000: "15.0",
	}
	for in, want := range tests {
		if got := WhToKwh(in); got != want {
			t.Errorf("WhToKwh(%d) = %s; want %s", in, got, want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(102.3456); got != "102.35" {
		t.Errorf("got %s", got)
	}
}

func TestTimeAgo(t *testing.T) {
	if got := TimeAgo(time.Now()); got != "just now" {
		t.Errorf("got %s", got)
	}
	if got := TimeAgo(time.Now().Add(-3 * time.Hour)); got != "3 hours ago" {
		t.Errorf("got %s", got)
	}
}
