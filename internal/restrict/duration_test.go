package restrict

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want int64
	}{
		{raw: "30", want: 30},
		{raw: "5m", want: 300},
		{raw: "2h", want: 7200},
		{raw: "1d", want: 86400},
		{raw: "0", want: 0},
		{raw: " 15m ", want: 900},
		{raw: "-5m", want: -300},
		{raw: "+2h", want: 7200},
		{raw: "90m", want: 5400},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"abc", "", "m", "5s", "1.5h", "5 m", "h5", "99999999999999999d"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidFormat", raw, err)
		}
	}
}

func TestParseScalesEveryUnit(t *testing.T) {
	t.Parallel()
	for n := int64(1); n <= 50; n++ {
		for suffix, mult := range map[string]int64{"": 1, "m": 60, "h": 3600, "d": 86400} {
			raw := strconv.FormatInt(n, 10) + suffix
			got, err := Parse(raw)
			if err != nil || got != n*mult {
				t.Fatalf("Parse(%q) = %d, %v; want %d", raw, got, err, n*mult)
			}
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0s"},
		{in: -10, want: "0s"},
		{in: 45, want: "45s"},
		{in: 300, want: "5m"},
		{in: 125, want: "2m 5s"},
		{in: 7200, want: "2h"},
		{in: 3605, want: "1h"},
		{in: 86400 + 3600 + 61, want: "1d 1h"},
		{in: 86400 + 300, want: "1d"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Fatalf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDurationRoundsUp(t *testing.T) {
	t.Parallel()
	if got := FormatDuration(4*time.Minute + 59*time.Second + 100*time.Millisecond); got != "5m" {
		t.Fatalf("FormatDuration = %q, want 5m", got)
	}
}
