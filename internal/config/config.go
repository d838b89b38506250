package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
	TransportMQTT   = "mqtt"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	RadioPort     string
	RadioBaud     int
	RadioParity   string
	RadioFrameGap time.Duration
	RadioResetPin string

	UplinkTransport string
	UplinkPort      string
	UplinkBaud      int
	UplinkTCPAddr   string

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTUplinkTopic string
	MQTTAckTopic    string

	MinNode         uint8
	MaxNode         uint8
	ReceiveWindow   time.Duration
	AttemptInterval time.Duration
	FlushInterval   time.Duration
	QueryTxDelay    time.Duration
	PollInterval    time.Duration
	AckBytes        []byte

	// SQLitePath enables the reading journal when non-empty.
	SQLitePath string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        stringEnv("HTTP_ADDR", ":8080"),
		RadioPort:       stringEnv("RADIO_PORT", "/dev/ttyS1"),
		RadioParity:     stringEnv("RADIO_PARITY", "N"),
		RadioResetPin:   stringEnv("RADIO_RESET_PIN", ""),
		UplinkTransport: strings.ToLower(stringEnv("UPLINK_TRANSPORT", TransportSerial)),
		UplinkPort:      stringEnv("UPLINK_PORT", "/dev/ttyS2"),
		UplinkTCPAddr:   stringEnv("UPLINK_TCP_ADDR", ""),
		MQTTBroker:      stringEnv("MQTT_BROKER", "localhost"),
		MQTTClientID:    stringEnv("MQTT_CLIENT_ID", "cloudpico-relay"),
		MQTTUplinkTopic: stringEnv("MQTT_UPLINK_TOPIC", "relay/uplink"),
		MQTTAckTopic:    stringEnv("MQTT_ACK_TOPIC", "relay/ack"),
		SQLitePath:      stringEnv("SQLITE_PATH", ""),
	}

	if cfg.RadioBaud, err = intEnv("RADIO_BAUD", 9600); err != nil {
		return Config{}, err
	}
	if cfg.UplinkBaud, err = intEnv("UPLINK_BAUD", 115200); err != nil {
		return Config{}, err
	}
	if cfg.MQTTPort, err = intEnv("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}

	switch cfg.UplinkTransport {
	case TransportSerial:
	case TransportTCP:
		if cfg.UplinkTCPAddr == "" {
			return Config{}, fmt.Errorf("UPLINK_TCP_ADDR is required when UPLINK_TRANSPORT=tcp")
		}
	case TransportMQTT:
		if cfg.MQTTUplinkTopic == "" || cfg.MQTTAckTopic == "" {
			return Config{}, fmt.Errorf("MQTT_UPLINK_TOPIC and MQTT_ACK_TOPIC are required when UPLINK_TRANSPORT=mqtt")
		}
	default:
		return Config{}, fmt.Errorf("invalid UPLINK_TRANSPORT %q (allowed: serial, tcp, mqtt)", cfg.UplinkTransport)
	}

	minNode, err := intEnv("NODE_MIN", 2)
	if err != nil {
		return Config{}, err
	}
	maxNode, err := intEnv("NODE_MAX", 5)
	if err != nil {
		return Config{}, err
	}
	if minNode < 1 || maxNode > 255 || minNode > maxNode {
		return Config{}, fmt.Errorf("invalid node range NODE_MIN=%d NODE_MAX=%d (need 1 <= min <= max <= 255)", minNode, maxNode)
	}
	cfg.MinNode, cfg.MaxNode = uint8(minNode), uint8(maxNode)

	// The control loop counts whole milliseconds, so its timings have a 1ms floor.
	durations := []struct {
		key string
		def time.Duration
		min time.Duration
		dst *time.Duration
	}{
		{"RADIO_FRAME_GAP", 20 * time.Millisecond, time.Nanosecond, &cfg.RadioFrameGap},
		{"RECEIVE_WINDOW", 1000 * time.Millisecond, time.Millisecond, &cfg.ReceiveWindow},
		{"ATTEMPT_INTERVAL", 200 * time.Millisecond, time.Millisecond, &cfg.AttemptInterval},
		{"FLUSH_INTERVAL", 200 * time.Millisecond, time.Millisecond, &cfg.FlushInterval},
		{"QUERY_TX_DELAY", 10 * time.Millisecond, 0, &cfg.QueryTxDelay},
		{"POLL_INTERVAL", 2 * time.Millisecond, time.Millisecond, &cfg.PollInterval},
	}
	for _, d := range durations {
		v, err := durationEnv(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		if v < d.min {
			return Config{}, fmt.Errorf("%s must be at least %v, got %v", d.key, d.min, v)
		}
		*d.dst = v
	}

	cfg.AckBytes, err = parseAckBytes(stringEnv("ACK_BYTES", `\x06K`))
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

// parseAckBytes reads ACK_BYTES as a Go-quoted string body, so both
// printable characters and escapes like \x06 are accepted.
func parseAckBytes(s string) ([]byte, error) {
	unq, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid ACK_BYTES %q: %w", s, err)
	}
	if len(unq) == 0 {
		return nil, fmt.Errorf("ACK_BYTES must name at least one byte")
	}
	return []byte(unq), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
