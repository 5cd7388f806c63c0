package followup

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"followup-engine/internal/common/errors"
)

const day = 24 * time.Hour

// MaxOffset bounds lead times in both directions. Priority compression at
// most doubles an offset, so every effective offset stays representable.
const MaxOffset = Offset(365 * day)

// Offset is a signed lead time before a due date. Positive offsets fire
// before the due date, negative ones after it.
//
// The text form is compact: "2d", "1d12h", "3h", "30m", "-1h". Parsing also
// accepts spelled-out units ("2 days", "3 hours", "1 week") and Go duration
// syntax ("90m", "1.5h").
type Offset time.Duration

// Days returns an offset of n calendar days.
func Days(n int) Offset { return Offset(time.Duration(n) * day) }

// Hours returns an offset of n hours.
func Hours(n int) Offset { return Offset(time.Duration(n) * time.Hour) }

// Minutes returns an offset of n minutes.
func Minutes(n int) Offset { return Offset(time.Duration(n) * time.Minute) }

// InRange reports whether |o| <= MaxOffset.
func (o Offset) InRange() bool { return o >= -MaxOffset && o <= MaxOffset }

// Duration returns the offset as a time.Duration.
func (o Offset) Duration() time.Duration { return time.Duration(o) }

// Scale multiplies the offset, rounding to the nearest nanosecond.
func (o Offset) Scale(factor float64) Offset {
	return Offset(math.Round(float64(o) * factor))
}

func (o Offset) String() string {
	d := time.Duration(o)
	if d == 0 {
		return "0m"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	parts := []struct {
		unit time.Duration
		sfx  string
	}{
		{day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"},
	}
	for _, p := range parts {
		if n := d / p.unit; n > 0 {
			b.WriteString(strconv.FormatInt(int64(n), 10))
			b.WriteString(p.sfx)
			d -= n * p.unit
		}
	}
	if d > 0 {
		// sub-second remainder; fall back to Go's notation for the rest
		b.WriteString(d.String())
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (o Offset) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Offset) UnmarshalText(text []byte) error {
	parsed, err := ParseOffset(string(text))
	if err != nil {
		return errors.NewValidationError("offset", err.Error())
	}
	*o = parsed
	return nil
}

var offsetUnits = map[string]time.Duration{
	"w": 7 * day, "wk": 7 * day, "week": 7 * day, "weeks": 7 * day,
	"d": day, "day": day, "days": day,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
}

// ParseOffset parses the offset text form.
func ParseOffset(s string) (Offset, error) {
	in := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if in == "" {
		return 0, fmt.Errorf("empty offset")
	}

	if total, ok := parseUnitSequence(in); ok {
		if math.Abs(total) > float64(MaxOffset) {
			return 0, outOfRange(s)
		}
		return Offset(math.Round(total)), nil
	}
	if d, err := time.ParseDuration(in); err == nil {
		if !Offset(d).InRange() {
			return 0, outOfRange(s)
		}
		return Offset(d), nil
	}
	return 0, fmt.Errorf("invalid offset %q", s)
}

func outOfRange(s string) error {
	return fmt.Errorf("offset %q is out of range (at most %s either way)", s, MaxOffset)
}

// parseUnitSequence sums "<number><unit>" pairs. The total is returned as a
// float so callers can range-check it before converting.
func parseUnitSequence(in string) (float64, bool) {
	sign := 1.0
	switch in[0] {
	case '-':
		sign = -1
		in = in[1:]
	case '+':
		in = in[1:]
	}
	if in == "" {
		return 0, false
	}

	var total float64
	for in != "" {
		i := 0
		for i < len(in) && (in[i] >= '0' && in[i] <= '9' || in[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, false
		}
		n, err := strconv.ParseFloat(in[:i], 64)
		if err != nil {
			return 0, false
		}
		in = in[i:]

		j := 0
		for j < len(in) && in[j] >= 'a' && in[j] <= 'z' {
			j++
		}
		unit, ok := offsetUnits[in[:j]]
		if !ok {
			return 0, false
		}
		in = in[j:]
		total += n * float64(unit)
	}
	return sign * total, true
}
