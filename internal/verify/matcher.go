package verify

import (
	"fmt"
	"time"

	"github.com/mikeyg42/ledwatch/internal/pattern"
)

// State is the matcher's verdict after an update.
type State struct {
	Verified bool
	// Since is when verification last became true; zero if never.
	Since time.Time
	// Match reports whether the current windows equal the expected patterns.
	Match bool
	// Full reports whether both windows hold a complete pattern's worth of samples.
	Full bool
}

// Matcher compares the most recent LED observations against the expected
// secret. A match sets verification and restarts the hold timer; until the
// hold elapses a mismatching window does not clear it.
type Matcher struct {
	expected   [2]pattern.Pattern
	thresholds Thresholds
	hold       time.Duration

	windows    [2][]bool
	verified   bool
	verifiedAt time.Time
}

func NewMatcher(secret *pattern.Secret, thresholds Thresholds, hold time.Duration) (*Matcher, error) {
	if secret == nil {
		return nil, fmt.Errorf("secret cannot be nil")
	}
	if err := secret.Validate(); err != nil {
		return nil, err
	}
	if hold < 0 {
		return nil, fmt.Errorf("hold duration cannot be negative")
	}
	n := secret.Len()
	return &Matcher{
		expected:   [2]pattern.Pattern{secret.LED1, secret.LED2},
		thresholds: thresholds,
		hold:       hold,
		windows:    [2][]bool{make([]bool, 0, n), make([]bool, 0, n)},
	}, nil
}

// Update records one brightness pair sampled at time at. It must be called
// once per actuator blink period.
func (m *Matcher) Update(at time.Time, led1, led2 float64) State {
	m.push(0, led1 > m.thresholds[0])
	m.push(1, led2 > m.thresholds[1])

	full := m.full()
	match := full && m.matches(0) && m.matches(1)

	switch {
	case match:
		m.verified = true
		m.verifiedAt = at
	case m.verified && at.Sub(m.verifiedAt) < m.hold:
		// held
	default:
		m.verified = false
	}

	return State{Verified: m.verified, Since: m.verifiedAt, Match: match, Full: full}
}

// Verified reports the current verification state.
func (m *Matcher) Verified() bool {
	return m.verified
}

// Windows returns copies of the observed ON/OFF windows, oldest first.
func (m *Matcher) Windows() [2][]bool {
	return [2][]bool{
		append([]bool(nil), m.windows[0]...),
		append([]bool(nil), m.windows[1]...),
	}
}

// Reset clears the windows and the verification state.
func (m *Matcher) Reset() {
	m.windows[0] = m.windows[0][:0]
	m.windows[1] = m.windows[1][:0]
	m.verified = false
	m.verifiedAt = time.Time{}
}

func (m *Matcher) push(led int, on bool) {
	w := m.windows[led]
	if len(w) == cap(w) {
		copy(w, w[1:])
		w = w[:len(w)-1]
	}
	m.windows[led] = append(w, on)
}

func (m *Matcher) full() bool {
	return len(m.windows[0]) == len(m.expected[0]) && len(m.windows[1]) == len(m.expected[1])
}

func (m *Matcher) matches(led int) bool {
	for i, on := range m.windows[led] {
		if on != m.expected[led].On(i) {
			return false
		}
	}
	return true
}
