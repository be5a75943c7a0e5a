package pattern

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Secret is the pair of patterns shared between the LED actuator and the
// verifier. Both sides must load the same secret for verification to succeed.
type Secret struct {
	LED1      Pattern   `yaml:"led1"`
	LED2      Pattern   `yaml:"led2"`
	CreatedAt time.Time `yaml:"created_at"`
}

// maxDraws bounds how many patterns NewSecret draws per LED while looking
// for one that toggles.
const maxDraws = 1000

// NewSecret draws an independent toggling pattern for each LED.
func NewSecret(cfg Config) (*Secret, error) {
	return newSecretFrom(rand.Reader, cfg)
}

func newSecretFrom(r io.Reader, cfg Config) (*Secret, error) {
	if err := cfg.ValidateBlink(); err != nil {
		return nil, err
	}
	led1, err := generateToggling(r, cfg)
	if err != nil {
		return nil, fmt.Errorf("led1: %w", err)
	}
	led2, err := generateToggling(r, cfg)
	if err != nil {
		return nil, fmt.Errorf("led2: %w", err)
	}
	return &Secret{LED1: led1, LED2: led2, CreatedAt: time.Now().UTC()}, nil
}

// generateToggling redraws until the pattern holds both an OFF and an ON
// position.
func generateToggling(r io.Reader, cfg Config) (Pattern, error) {
	for range maxDraws {
		p, err := GenerateFrom(r, cfg)
		if err != nil {
			return nil, err
		}
		if p.Toggles() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no toggling pattern after %d draws", maxDraws)
}

// Len is the number of positions in one blink cycle.
func (s *Secret) Len() int {
	return len(s.LED1)
}

// Validate checks that both patterns are usable together.
func (s *Secret) Validate() error {
	if len(s.LED1) == 0 {
		return fmt.Errorf("secret has an empty led1 pattern")
	}
	if len(s.LED1) != len(s.LED2) {
		return fmt.Errorf("secret patterns differ in length: led1=%d led2=%d", len(s.LED1), len(s.LED2))
	}
	for i, p := range []Pattern{s.LED1, s.LED2} {
		for _, d := range p {
			if d < 0 {
				return fmt.Errorf("secret pattern %s has a negative digit", p)
			}
		}
		if !p.Toggles() {
			return fmt.Errorf("secret led%d pattern %s never toggles", i+1, p)
		}
	}
	return nil
}

// Provision generates a secret and writes it to path, readable only by the
// owner. An existing file is replaced.
func Provision(path string, cfg Config) (*Secret, error) {
	s, err := NewSecret(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the secret as YAML with 0600 permissions.
func (s *Secret) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create secret directory %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to install secret: %w", err)
	}
	return nil
}

// LoadSecret reads and validates a provisioned secret.
func LoadSecret(path string) (*Secret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	var s Secret
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse secret: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
