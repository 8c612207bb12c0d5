package restrict

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFormat is returned by Parse when the token is not "<int>[d|h|m]".
var ErrInvalidFormat = errors.New("invalid duration format")

var unitSeconds = map[byte]int64{
	'd': 86400,
	'h': 3600,
	'm': 60,
}

// Parse converts a compact duration token into seconds.
//
// Accepted forms: "30" (seconds), "5m", "2h", "1d". The numeric part must be
// an integer. Magnitude and sign are not validated; callers decide what range
// they accept.
func Parse(token string) (int64, error) {
	s := strings.TrimSpace(token)
	mult := int64(1)
	if s != "" {
		if m, ok := unitSeconds[s[len(s)-1]]; ok {
			mult = m
			s = s[:len(s)-1]
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}
	if n > math.MaxInt64/mult || n < math.MinInt64/mult {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidFormat, token)
	}
	return n * mult, nil
}

// Format renders seconds for humans using at most two units, e.g. "1d 2h", "5m", "45s".
func Format(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}
	units := []struct {
		suffix string
		size   int64
	}{{"d", 86400}, {"h", 3600}, {"m", 60}, {"s", 1}}

	parts := make([]string, 0, 2)
	for _, u := range units {
		if len(parts) == 2 {
			break
		}
		if v := seconds / u.size; v > 0 {
			parts = append(parts, strconv.FormatInt(v, 10)+u.suffix)
			seconds -= v * u.size
		} else if len(parts) > 0 {
			// Keep units adjacent: "1d 0h 5m" reads worse than "1d".
			break
		}
	}
	return strings.Join(parts, " ")
}

// FormatDuration is Format for a time.Duration, rounded up to whole seconds.
func FormatDuration(d time.Duration) string {
	return Format(ceilSeconds(d))
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
