// Package fixedpoint converts between floating domain values and the
// scaled integers the replay pipeline operates on. It is the only place
// floating-point values touch the pipeline.
package fixedpoint

import (
	"math"
	"strings"

	"bookreplay/internal/errors"
)

var (
	ErrOutOfRange    = errors.New("fixed-point value out of range")
	ErrBadMultiplier = errors.New("fixed-point multiplier must be > 0")
	ErrBadDecimal    = errors.New("fixed-point invalid decimal string")
)

// int64 bounds as exact float64 values. 1<<63 is representable; MaxInt64
// is not, so the upper check is exclusive.
const (
	upperBound = float64(1 << 63)
	lowerBound = -float64(1 << 63)
)

// Encode converts value into a scaled integer using
// round-half-away-from-zero. The rounding rule is applied consistently
// everywhere a float enters the pipeline.
func Encode(value float64, multiplier int64) (int64, error) {
	if multiplier <= 0 {
		return 0, errors.Wrapf(ErrBadMultiplier, "multiplier %d", multiplier)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.Wrapf(ErrOutOfRange, "value %v", value)
	}

	scaled := math.Round(value * float64(multiplier))
	if scaled >= upperBound || scaled < lowerBound {
		return 0, errors.Wrapf(ErrOutOfRange, "value %v with multiplier %d", value, multiplier)
	}
	return int64(scaled), nil
}

// Decode converts a scaled integer back to a floating value.
// For any value in range, |Decode(Encode(x,m),m) - x| <= 1/m.
func Decode(value int64, multiplier int64) float64 {
	return float64(value) / float64(multiplier)
}

// EncodeString converts a decimal string into a scaled integer without a
// float64 round trip, so raw feed dumps keep their exact values. The
// multiplier must be a power of ten; digits beyond the multiplier's
// precision round half away from zero.
func EncodeString(s string, multiplier int64) (int64, error) {
	if multiplier <= 0 {
		return 0, errors.Wrapf(ErrBadMultiplier, "multiplier %d", multiplier)
	}
	scale, ok := powerOfTen(multiplier)
	if !ok {
		return 0, errors.Wrapf(ErrBadMultiplier, "multiplier %d is not a power of ten", multiplier)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(ErrBadDecimal, "empty string")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, found := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return 0, errors.Wrapf(ErrBadDecimal, "%q", s)
	}
	if found && fracPart == "" {
		// trailing dot is fine: "12." == "12"
		fracPart = "0"
	}
	if intPart == "" {
		intPart = "0"
	}

	var out int64
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrBadDecimal, "%q", s)
		}
		var err error
		out, err = push(out, int64(c-'0'))
		if err != nil {
			return 0, errors.Wrapf(err, "value %q with multiplier %d", s, multiplier)
		}
	}

	for i := 0; i < scale; i++ {
		digit := int64(0)
		if i < len(fracPart) {
			c := fracPart[i]
			if c < '0' || c > '9' {
				return 0, errors.Wrapf(ErrBadDecimal, "%q", s)
			}
			digit = int64(c - '0')
		}
		var err error
		out, err = push(out, digit)
		if err != nil {
			return 0, errors.Wrapf(err, "value %q with multiplier %d", s, multiplier)
		}
	}

	// Round on the first dropped digit, half away from zero.
	if len(fracPart) > scale {
		c := fracPart[scale]
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrBadDecimal, "%q", s)
		}
		for i := scale + 1; i < len(fracPart); i++ {
			if fracPart[i] < '0' || fracPart[i] > '9' {
				return 0, errors.Wrapf(ErrBadDecimal, "%q", s)
			}
		}
		if c >= '5' {
			var err error
			out, err = add(out, 1)
			if err != nil {
				return 0, errors.Wrapf(err, "value %q with multiplier %d", s, multiplier)
			}
		}
	}

	if neg {
		out = -out
	}
	return out, nil
}

func push(acc, digit int64) (int64, error) {
	if acc > (math.MaxInt64-digit)/10 {
		return 0, ErrOutOfRange
	}
	return acc*10 + digit, nil
}

func add(acc, n int64) (int64, error) {
	if acc > math.MaxInt64-n {
		return 0, ErrOutOfRange
	}
	return acc + n, nil
}

func powerOfTen(n int64) (int, bool) {
	scale := 0
	for n > 1 {
		if n%10 != 0 {
			return 0, false
		}
		n /= 10
		scale++
	}
	return scale, true
}
