// Package led drives the two status LEDs through the provisioned blink
// pattern.
package led

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/pattern"
)

// Config selects how LED values reach the hardware.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Driver   string        `yaml:"driver"` // sysfs, serial or mqtt
	Interval time.Duration `yaml:"interval"`
	Sysfs    SysfsConfig   `yaml:"sysfs"`
	Serial   SerialConfig  `yaml:"serial"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
}

type SysfsConfig struct {
	LED1Path string `yaml:"led1_path"`
	LED2Path string `yaml:"led2_path"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Driver:   "sysfs",
		Interval: time.Second,
		Sysfs: SysfsConfig{
			LED1Path: "/sys/class/leds/ACT/brightness",
			LED2Path: "/sys/class/leds/PWR/brightness",
		},
		Serial: SerialConfig{Baud: 115200},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "ledwatch",
			Topic:    "ledwatch/led",
		},
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return fmt.Errorf("led interval must be positive")
	}
	switch c.Driver {
	case "sysfs":
		if c.Sysfs.LED1Path == "" || c.Sysfs.LED2Path == "" {
			return fmt.Errorf("led sysfs paths are required")
		}
	case "serial":
		if c.Serial.Port == "" || c.Serial.Baud <= 0 {
			return fmt.Errorf("led serial port and baud are required")
		}
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return fmt.Errorf("led mqtt broker and topic are required")
		}
	default:
		return fmt.Errorf("unknown led driver %q", c.Driver)
	}
	return nil
}

// Actuator cycles both LEDs through the secret, one position per interval.
type Actuator struct {
	sinks    [2]Sink
	interval time.Duration
	logger   *zap.Logger
}

func NewActuator(led1, led2 Sink, interval time.Duration, logger *zap.Logger) (*Actuator, error) {
	if led1 == nil || led2 == nil {
		return nil, fmt.Errorf("both LED sinks are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if logger == nil {
		logger = zap.L().Named("led")
	}
	return &Actuator{sinks: [2]Sink{led1, led2}, interval: interval, logger: logger}, nil
}

// Open builds an actuator for the configured driver.
func Open(cfg Config, logger *zap.Logger) (*Actuator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L().Named("led")
	}

	var led1, led2 Sink
	switch cfg.Driver {
	case "sysfs":
		led1, led2 = &SysfsSink{Path: cfg.Sysfs.LED1Path}, &SysfsSink{Path: cfg.Sysfs.LED2Path}
	case "serial":
		port, err := OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		led1, led2 = port.Sink("led1"), port.Sink("led2")
	case "mqtt":
		pub, err := ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		led1, led2 = pub.Sink("led1"), pub.Sink("led2")
	}

	logger.Info("LED actuator ready", zap.String("driver", cfg.Driver), zap.Duration("interval", cfg.Interval))
	return NewActuator(led1, led2, cfg.Interval, logger)
}

// Run writes position 0 immediately and advances one position per interval,
// wrapping at the end of the pattern, until ctx is done or a write fails.
// Both LEDs are switched off on the way out.
func (a *Actuator) Run(ctx context.Context, secret *pattern.Secret) error {
	if err := secret.Validate(); err != nil {
		return err
	}
	defer a.off()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % secret.Len() {
		if err := a.write(secret.LED1[i], secret.LED2[i]); err != nil {
			a.logger.Error("LED write failed", zap.Int("position", i), zap.Error(err))
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Actuator) write(v1, v2 int) error {
	return errors.Join(a.sinks[0].Set(v1), a.sinks[1].Set(v2))
}

func (a *Actuator) off() {
	if err := a.write(0, 0); err != nil {
		a.logger.Warn("Failed to switch LEDs off", zap.Error(err))
	}
}

func (a *Actuator) Close() error {
	return errors.Join(a.sinks[0].Close(), a.sinks[1].Close())
}
