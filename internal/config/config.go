package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloudpico-station/internal/bme280"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	I2CBus             string
	BME280Address      uint16
	SensorPollInterval time.Duration
	DeviceStationID    string

	Oversampling bme280.Oversampling
	Filter       bme280.Filter
	Standby      bme280.Standby
	ResetPolls   int
	MeasurePolls int
	PollInterval time.Duration
	BusTimeout   time.Duration

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	// SQLitePath is where readings are kept. Empty disables persistence.
	SQLitePath string
	// HTTPAddr serves health and stored readings. Empty disables it; it also
	// needs SQLitePath.
	HTTPAddr string
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

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	bme280AddressStr := envOr("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	sensorPollInterval, err := parsePositiveDuration("SENSOR_POLL_INTERVAL", "5s")
	if err != nil {
		return Config{}, err
	}

	oversampling, err := parseOversampling(envOr("BME280_OVERSAMPLING", "1"))
	if err != nil {
		return Config{}, err
	}
	filter, err := parseFilter(envOr("BME280_FILTER", "off"))
	if err != nil {
		return Config{}, err
	}
	standby, err := parseStandby(envOr("BME280_STANDBY", "1000"))
	if err != nil {
		return Config{}, err
	}

	resetPolls, err := parsePositiveInt("BME280_RESET_POLLS", "100")
	if err != nil {
		return Config{}, err
	}
	measurePolls, err := parsePositiveInt("BME280_MEASURE_POLLS", "100")
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parsePositiveDuration("BME280_POLL_INTERVAL", "2ms")
	if err != nil {
		return Config{}, err
	}
	busTimeout, err := parsePositiveDuration("BME280_BUS_TIMEOUT", "1s")
	if err != nil {
		return Config{}, err
	}

	mqttEnabledStr := envOr("MQTT_ENABLED", "true")
	mqttEnabled, err := strconv.ParseBool(mqttEnabledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_ENABLED %q: %w", mqttEnabledStr, err)
	}

	mqttPortStr := envOr("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		I2CBus:             strings.TrimSpace(os.Getenv("I2C_BUS")),
		BME280Address:      uint16(bme280Address),
		SensorPollInterval: sensorPollInterval,
		DeviceStationID:    envOr("DEVICE_STATION_ID", "home"),
		Oversampling:       oversampling,
		Filter:             filter,
		Standby:            standby,
		ResetPolls:         resetPolls,
		MeasurePolls:       measurePolls,
		PollInterval:       pollInterval,
		BusTimeout:         busTimeout,
		MQTTEnabled:        mqttEnabled,
		MQTTBroker:         envOr("MQTT_BROKER", "localhost"),
		MQTTPort:           mqttPort,
		MQTTClientID:       envOr("MQTT_CLIENT_ID", "cloudpico-station"),
		SQLitePath:         strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		HTTPAddr:           strings.TrimSpace(os.Getenv("HTTP_ADDR")),
	}, nil
}

// envOr returns the trimmed value of key, or def when it is empty.
func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parsePositiveInt(key, def string) (int, error) {
	s := envOr(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
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

func parseOversampling(s string) (bme280.Oversampling, error) {
	switch strings.ToLower(s) {
	case "0", "skip":
		return bme280.Skip, nil
	case "1":
		return bme280.O1x, nil
	case "2":
		return bme280.O2x, nil
	case "4":
		return bme280.O4x, nil
	case "8":
		return bme280.O8x, nil
	case "16":
		return bme280.O16x, nil
	default:
		return bme280.O1x, fmt.Errorf("invalid BME280_OVERSAMPLING %q (allowed: 0, 1, 2, 4, 8, 16)", s)
	}
}

func parseFilter(s string) (bme280.Filter, error) {
	switch strings.ToLower(s) {
	case "off", "0":
		return bme280.NoFilter, nil
	case "2":
		return bme280.F2, nil
	case "4":
		return bme280.F4, nil
	case "8":
		return bme280.F8, nil
	case "16":
		return bme280.F16, nil
	default:
		return bme280.NoFilter, fmt.Errorf("invalid BME280_FILTER %q (allowed: off, 2, 4, 8, 16)", s)
	}
}

// parseStandby takes the standby period in milliseconds.
func parseStandby(s string) (bme280.Standby, error) {
	switch s {
	case "0.5":
		return bme280.S0_5ms, nil
	case "62.5":
		return bme280.S62_5ms, nil
	case "125":
		return bme280.S125ms, nil
	case "250":
		return bme280.S250ms, nil
	case "500":
		return bme280.S500ms, nil
	case "1000":
		return bme280.S1000ms, nil
	case "10":
		return bme280.S10ms, nil
	case "20":
		return bme280.S20ms, nil
	default:
		return bme280.S1000ms, fmt.Errorf("invalid BME280_STANDBY %q (allowed: 0.5, 10, 20, 62.5, 125, 250, 500, 1000)", s)
	}
}
