// Package config holds the daemon configuration and applies runtime updates
// to it. Values live in a YAML file managed by viper; remote updates go
// through a table of known keys with typed setters.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sweeney/coin-relay/internal/gpio"
	"github.com/sweeney/coin-relay/internal/logic"
)

// Settings is the full daemon configuration.
type Settings struct {
	App    AppConfig    `mapstructure:"app"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Log    LogConfig    `mapstructure:"log"`
}

// AppConfig configures the control core and its hardware.
type AppConfig struct {
	Policy    string `mapstructure:"policy"`
	MachineOn bool   `mapstructure:"machine_on"`

	Chip     string `mapstructure:"chip"`
	PinRelay int    `mapstructure:"pin_relay"`
	PinCoin  int    `mapstructure:"pin_coin"`

	RelayDriver     string `mapstructure:"relay_driver"` // "gpio" or "serial"
	RelayActiveLow  bool   `mapstructure:"relay_active_low"`
	RelaySerialPort string `mapstructure:"relay_serial_port"`
	RelaySerialBaud int    `mapstructure:"relay_serial_baud"`

	StartHour   int `mapstructure:"start_hour"`
	StartMinute int `mapstructure:"start_minute"`
	EndHour     int `mapstructure:"end_hour"`
	EndMinute   int `mapstructure:"end_minute"`

	CheckIntervalMs  int `mapstructure:"check_interval_ms"`
	ReportIntervalMs int `mapstructure:"report_interval_ms"`
	DebounceMs       int `mapstructure:"debounce_ms"`

	StateFile string `mapstructure:"state_file"`
	Timezone  string `mapstructure:"timezone"`
}

// MQTTConfig configures the broker connection and topics.
type MQTTConfig struct {
	Broker       string `mapstructure:"broker"`
	ClientID     string `mapstructure:"client_id"`
	StatusTopic  string `mapstructure:"status_topic"`
	ControlTopic string `mapstructure:"control_topic"`
	SystemTopic  string `mapstructure:"system_topic"`
}

// HTTPConfig configures the status page and RPC listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LedgerConfig configures the transition ledger database.
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // "json" or "console"
	Output string        `mapstructure:"output"` // "stdout", "file" or "both"
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotated log file.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.policy", string(logic.PolicyCoin))
	v.SetDefault("app.machine_on", false)
	v.SetDefault("app.chip", gpio.DefaultChip)
	v.SetDefault("app.pin_relay", gpio.DefaultPinRelay)
	v.SetDefault("app.pin_coin", gpio.DefaultPinCoin)
	v.SetDefault("app.relay_driver", "gpio")
	v.SetDefault("app.relay_active_low", false)
	v.SetDefault("app.relay_serial_port", "/dev/ttyUSB0")
	v.SetDefault("app.relay_serial_baud", 9600)
	v.SetDefault("app.start_hour", 22)
	v.SetDefault("app.start_minute", 0)
	v.SetDefault("app.end_hour", 6)
	v.SetDefault("app.end_minute", 0)
	v.SetDefault("app.check_interval_ms", 1000)
	v.SetDefault("app.report_interval_ms", 60000)
	v.SetDefault("app.debounce_ms", 50)
	v.SetDefault("app.state_file", "machine_state.json")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.status_topic", "coin-relay/status")
	v.SetDefault("mqtt.control_topic", "coin-relay/rpc")
	v.SetDefault("mqtt.system_topic", "coin-relay/system")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.dsn", "coin-relay.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "coin-relay.log")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.compress", true)
}

// Validate checks values the daemon cannot start without.
func (s Settings) Validate() error {
	if _, err := logic.ParsePolicy(s.App.Policy); err != nil {
		return err
	}
	if err := s.App.Window().Validate(); err != nil {
		return err
	}
	if s.App.CheckIntervalMs <= 0 {
		return fmt.Errorf("app.check_interval_ms must be positive, got %d", s.App.CheckIntervalMs)
	}
	if s.App.ReportIntervalMs <= 0 {
		return fmt.Errorf("app.report_interval_ms must be positive, got %d", s.App.ReportIntervalMs)
	}
	if s.App.DebounceMs < 0 {
		return fmt.Errorf("app.debounce_ms must not be negative, got %d", s.App.DebounceMs)
	}
	switch s.App.RelayDriver {
	case "gpio", "serial":
	default:
		return fmt.Errorf("app.relay_driver must be gpio or serial, got %q", s.App.RelayDriver)
	}
	if s.App.StateFile == "" {
		return fmt.Errorf("app.state_file must be set")
	}
	if _, err := s.App.Location(); err != nil {
		return err
	}
	return nil
}

// PolicyValue returns the parsed policy. Settings must have been validated.
func (a AppConfig) PolicyValue() logic.Policy {
	return logic.Policy(a.Policy)
}

// Window returns the activation window.
func (a AppConfig) Window() logic.TimeWindow {
	return logic.TimeWindow{
		StartHour:   a.StartHour,
		StartMinute: a.StartMinute,
		EndHour:     a.EndHour,
		EndMinute:   a.EndMinute,
	}
}

// Location resolves the configured timezone.
func (a AppConfig) Location() (*time.Location, error) {
	return loadLocation(a.Timezone)
}

// CheckInterval is the schedule evaluation period.
func (a AppConfig) CheckInterval() time.Duration {
	return time.Duration(a.CheckIntervalMs) * time.Millisecond
}

// ReportInterval is the status report period.
func (a AppConfig) ReportInterval() time.Duration {
	return time.Duration(a.ReportIntervalMs) * time.Millisecond
}

// Debounce is the coin edge debounce period.
func (a AppConfig) Debounce() time.Duration {
	return time.Duration(a.DebounceMs) * time.Millisecond
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
