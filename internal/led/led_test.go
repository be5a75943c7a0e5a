package led

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikeyg42/ledwatch/internal/pattern"
)

type recordingSink struct {
	values chan int
	fail   error
	closed bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{values: make(chan int, 64)}
}

func (s *recordingSink) Set(v int) error {
	if s.fail != nil {
		return s.fail
	}
	select {
	case s.values <- v:
	default:
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestActuatorCyclesPattern(t *testing.T) {
	led1, led2 := newRecordingSink(), newRecordingSink()
	a, err := NewActuator(led1, led2, 2*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	secret := &pattern.Secret{LED1: pattern.Pattern{0, 0, 1, 0}, LED2: pattern.Pattern{0, 1, 1, 0}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, secret) }()

	var got1, got2 []int
	for len(got1) < 6 {
		select {
		case v := <-led1.values:
			got1 = append(got1, v)
			got2 = append(got2, <-led2.values)
		case <-time.After(2 * time.Second):
			t.Fatal("actuator stalled")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 0, 1, 0, 0, 0}, got1)
	assert.Equal(t, []int{0, 1, 1, 0, 0, 1}, got2)
}

func TestActuatorStopsOnWriteError(t *testing.T) {
	led1, led2 := newRecordingSink(), newRecordingSink()
	led2.fail = errors.New("permission denied")
	a, err := NewActuator(led1, led2, time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	err = a.Run(context.Background(), &pattern.Secret{LED1: pattern.Pattern{1, 0}, LED2: pattern.Pattern{1, 0}})
	assert.ErrorIs(t, err, led2.fail)

	require.NoError(t, a.Close())
	assert.True(t, led1.closed)
	assert.True(t, led2.closed)
}

func TestSysfsSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))

	s := &SysfsSink{Path: path}
	require.NoError(t, s.Set(7))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	missing := &SysfsSink{Path: filepath.Join(t.TempDir(), "nope", "brightness")}
	assert.Error(t, missing.Set(1))
}

type bufferPort struct {
	bytes.Buffer
	closed int
}

func (b *bufferPort) Close() error {
	b.closed++
	return nil
}

func TestSerialSinks(t *testing.T) {
	buf := &bufferPort{}
	port := &SerialPort{port: buf}
	s1, s2 := port.Sink("led1"), port.Sink("led2")

	require.NoError(t, s1.Set(1))
	require.NoError(t, s2.Set(0))
	assert.Equal(t, "led1=1\nled2=0\n", buf.String())

	require.NoError(t, s1.Close())
	require.NoError(t, s1.Close())
	assert.Zero(t, buf.closed, "port stays open while a sink is live")
	require.NoError(t, s2.Close())
	assert.Equal(t, 1, buf.closed)
}

func TestMQTTSinks(t *testing.T) {
	var mu sync.Mutex
	published := map[string]string{}
	disconnected := false

	pub := &Publisher{
		topic: "ledwatch/led",
		qos:   1,
		publish: func(topic string, qos byte, payload []byte) error {
			mu.Lock()
			defer mu.Unlock()
			published[topic] = string(payload)
			return nil
		},
		close: func() { disconnected = true },
	}
	s1, s2 := pub.Sink("led1"), pub.Sink("led2")
	require.NoError(t, s1.Set(3))
	require.NoError(t, s2.Set(0))

	assert.Equal(t, map[string]string{"ledwatch/led/led1": "3", "ledwatch/led/led2": "0"}, published)

	require.NoError(t, s1.Close())
	assert.False(t, disconnected)
	require.NoError(t, s2.Close())
	assert.True(t, disconnected)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Driver = "gpio"
	assert.Error(t, cfg.Validate())

	cfg.Driver = "serial"
	assert.Error(t, cfg.Validate(), "serial needs a port")
	cfg.Serial.Port = "/dev/ttyACM0"
	assert.NoError(t, cfg.Validate())
}
