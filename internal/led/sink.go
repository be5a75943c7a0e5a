package led

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Sink drives one LED.
type Sink interface {
	Set(value int) error
	Close() error
}

// SysfsSink writes the brightness value to a kernel LED class file, e.g.
// /sys/class/leds/ACT/brightness. The file is reopened for every write.
type SysfsSink struct {
	Path string
}

func (s *SysfsSink) Set(value int) error {
	f, err := os.OpenFile(s.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Path, err)
	}
	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return f.Close()
}

func (s *SysfsSink) Close() error { return nil }

// SerialPort is a microcontroller link shared by both LEDs. Each value is
// sent as a "<name>=<value>\n" line.
type SerialPort struct {
	mu   sync.Mutex
	port io.WriteCloser
	refs int
}

// OpenSerial opens the port at 8N1 and the given baud rate.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return &SerialPort{port: port}, nil
}

// Sink returns a sink for the LED called name. The port closes when every
// sink it handed out has been closed.
func (p *SerialPort) Sink(name string) Sink {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
	return &serialSink{port: p, name: name}
}

type serialSink struct {
	port *SerialPort
	name string
	once sync.Once
}

func (s *serialSink) Set(value int) error {
	s.port.mu.Lock()
	defer s.port.mu.Unlock()
	if _, err := fmt.Fprintf(s.port.port, "%s=%d\n", s.name, value); err != nil {
		return fmt.Errorf("serial write %s: %w", s.name, err)
	}
	return nil
}

func (s *serialSink) Close() error {
	var err error
	s.once.Do(func() {
		s.port.mu.Lock()
		defer s.port.mu.Unlock()
		s.port.refs--
		if s.port.refs == 0 {
			err = s.port.port.Close()
		}
	})
	return err
}

// MQTTConfig configures the broker LED values are published to.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Publisher publishes LED values to <topic>/<led>.
type Publisher struct {
	topic   string
	qos     byte
	publish func(topic string, qos byte, payload []byte) error
	close   func()
	refs    int
	mu      sync.Mutex
}

// ConnectMQTT connects to the broker, waiting up to five seconds.
func ConnectMQTT(cfg MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return &Publisher{
		topic: cfg.Topic,
		qos:   cfg.QoS,
		publish: func(topic string, qos byte, payload []byte) error {
			t := client.Publish(topic, qos, true, payload)
			if !t.WaitTimeout(5 * time.Second) {
				return fmt.Errorf("mqtt publish to %s timed out", topic)
			}
			return t.Error()
		},
		close: func() { client.Disconnect(250) },
	}, nil
}

// Sink returns a sink for the LED called name.
func (p *Publisher) Sink(name string) Sink {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
	return &mqttSink{pub: p, topic: p.topic + "/" + name}
}

type mqttSink struct {
	pub   *Publisher
	topic string
	once  sync.Once
}

func (s *mqttSink) Set(value int) error {
	if err := s.pub.publish(s.topic, s.pub.qos, []byte(strconv.Itoa(value))); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", s.topic, err)
	}
	return nil
}

func (s *mqttSink) Close() error {
	s.once.Do(func() {
		s.pub.mu.Lock()
		defer s.pub.mu.Unlock()
		s.pub.refs--
		if s.pub.refs == 0 && s.pub.close != nil {
			s.pub.close()
		}
	})
	return nil
}
