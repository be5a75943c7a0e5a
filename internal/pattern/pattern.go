// Package pattern generates and provisions the secret blink sequences the
// status LEDs emit and the verifier expects to observe.
package pattern

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

// Pattern is an ordered, fixed-length sequence of digits. A digit of zero
// drives the LED off; any other digit drives it on.
type Pattern []int

// Config describes how a pattern is drawn.
type Config struct {
	Length        int  `yaml:"length"`
	MinDigit      int  `yaml:"min_digit"`
	MaxDigit      int  `yaml:"max_digit"`
	RepeatAllowed bool `yaml:"repeat_allowed"`
}

// DefaultConfig mirrors the stock generator settings: ten decimal digits,
// repeats allowed.
func DefaultConfig() Config {
	return Config{
		Length:        10,
		MinDigit:      0,
		MaxDigit:      9,
		RepeatAllowed: true,
	}
}

// MisuseError reports a generator configuration that can never be satisfied.
type MisuseError struct {
	Config Config
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("pattern misuse (length=%d digits=[%d,%d] repeats=%t): %s",
		e.Config.Length, e.Config.MinDigit, e.Config.MaxDigit, e.Config.RepeatAllowed, e.Reason)
}

// Validate rejects configurations the generator cannot terminate on.
func (c Config) Validate() error {
	switch {
	case c.Length <= 0:
		return &MisuseError{Config: c, Reason: "length must be positive"}
	case c.MinDigit < 0:
		return &MisuseError{Config: c, Reason: "digits must be non-negative"}
	case c.MaxDigit < c.MinDigit:
		return &MisuseError{Config: c, Reason: "max digit below min digit"}
	case !c.RepeatAllowed && c.span() < int64(c.Length):
		return &MisuseError{Config: c, Reason: fmt.Sprintf("only %d distinct digits for %d positions without repeats", c.span(), c.Length)}
	}
	return nil
}

// ValidateBlink extends Validate with the constraints of an LED pattern: at
// least two positions, and a digit range that holds both the OFF digit (0)
// and an ON digit. A pattern that never toggles cannot be calibrated against.
func (c Config) ValidateBlink() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch {
	case c.Length < 2:
		return &MisuseError{Config: c, Reason: "an LED pattern needs at least two positions to toggle"}
	case c.MinDigit > 0:
		return &MisuseError{Config: c, Reason: "min digit must be 0 so the LED can switch off"}
	case c.MaxDigit == c.MinDigit:
		return &MisuseError{Config: c, Reason: "digit range holds no ON digit"}
	}
	return nil
}

func (c Config) span() int64 {
	return int64(c.MaxDigit-c.MinDigit) + 1
}

// Generate draws a pattern from the operating system's CSPRNG.
func Generate(cfg Config) (Pattern, error) {
	return GenerateFrom(rand.Reader, cfg)
}

// GenerateFrom draws a pattern using r as the entropy source.
func GenerateFrom(r io.Reader, cfg Config) (Pattern, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	span := big.NewInt(cfg.span())
	seen := make(map[int]bool, cfg.Length)
	p := make(Pattern, 0, cfg.Length)

	for len(p) < cfg.Length {
		n, err := rand.Int(r, span)
		if err != nil {
			return nil, fmt.Errorf("failed to read entropy: %w", err)
		}
		digit := cfg.MinDigit + int(n.Int64())
		if !cfg.RepeatAllowed && seen[digit] {
			continue
		}
		seen[digit] = true
		p = append(p, digit)
	}
	return p, nil
}

// Toggles reports whether the pattern switches the LED both off and on
// within one cycle.
func (p Pattern) Toggles() bool {
	var off, on bool
	for i := range p {
		if p.On(i) {
			on = true
		} else {
			off = true
		}
	}
	return off && on
}

// On reports whether position i drives the LED on.
func (p Pattern) On(i int) bool {
	return p[i] != 0
}

// Equal reports whether both patterns hold the same digits in the same order.
func (p Pattern) Equal(o Pattern) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, d := range p {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
