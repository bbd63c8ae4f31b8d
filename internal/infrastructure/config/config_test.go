package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
gateway:
  connection: "tcp://localhost:7014"
  environment:
    EPICS_CA_ADDR_LIST: "10.0.0.255"
devices:
  - device: "mot1:ax1"
    fields: [".VAL", ".RBV", ".MSTA"]
    status_field: ".MSTA"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Gateway.Connection != "tcp://localhost:7014" {
		t.Errorf("Gateway.Connection = %q, want %q", cfg.Gateway.Connection, "tcp://localhost:7014")
	}

	if got := cfg.Gateway.Environment["EPICS_CA_ADDR_LIST"]; got != "10.0.0.255" {
		t.Errorf("Gateway.Environment[EPICS_CA_ADDR_LIST] = %q, want %q", got, "10.0.0.255")
	}

	if len(cfg.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(cfg.Devices))
	}

	if cfg.Devices[0].StatusField != ".MSTA" {
		t.Errorf("Devices[0].StatusField = %q, want %q", cfg.Devices[0].StatusField, ".MSTA")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Defaults survive a partial file.
	if cfg.Gateway.ConnectTimeout != 20 {
		t.Errorf("Gateway.ConnectTimeout = %d, want default 20", cfg.Gateway.ConnectTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	// valid returns a config that passes validation; tests mutate one field.
	valid := func() *Config {
		return &Config{
			Site: SiteConfig{ID: "site-001"},
			Gateway: GatewayConfig{
				Connection:     "tcp://localhost:7014",
				ConnectTimeout: 20,
				RequestTimeout: 5,
			},
			Devices: []DeviceConfig{
				{Device: "mot1:ax1", Fields: []string{".VAL"}},
			},
			Database: DatabaseConfig{Path: "/data/pvgate.db"},
			MQTT:     MQTTConfig{QoS: 1},
			Bridge:   BridgeConfig{HealthInterval: 30},
			API:      APIConfig{Port: 8080},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing gateway connection",
			mutate:  func(c *Config) { c.Gateway.Connection = "" },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Gateway.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "device without name",
			mutate:  func(c *Config) { c.Devices[0].Device = "" },
			wantErr: true,
		},
		{
			name:    "device without fields",
			mutate:  func(c *Config) { c.Devices[0].Fields = nil },
			wantErr: true,
		},
		{
			name: "duplicate device",
			mutate: func(c *Config) {
				c.Devices = append(c.Devices, DeviceConfig{Device: "mot1:ax1", Fields: []string{".RBV"}})
			},
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without token",
			mutate:  func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://localhost:8086"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Gateway: GatewayConfig{
			ConnectTimeout: 20,
			RequestTimeout: 5,
		},
		Bridge: BridgeConfig{HealthInterval: 15},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetConnectTimeout().Seconds(); got != 20 {
		t.Errorf("GetConnectTimeout() = %v, want 20", got)
	}

	if got := cfg.GetRequestTimeout().Seconds(); got != 5 {
		t.Errorf("GetRequestTimeout() = %v, want 5", got)
	}

	if got := cfg.GetHealthInterval().Seconds(); got != 15 {
		t.Errorf("GetHealthInterval() = %v, want 15", got)
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("PVGATE_GATEWAY_CONNECTION", "unix:///run/pvgate-d.sock")
	t.Setenv("PVGATE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("PVGATE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("PVGATE_MQTT_USERNAME", "testuser")
	t.Setenv("PVGATE_MQTT_PASSWORD", "testpass")
	t.Setenv("PVGATE_API_HOST", "192.168.1.1")
	t.Setenv("PVGATE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Gateway.Connection != "unix:///run/pvgate-d.sock" {
		t.Errorf("Gateway.Connection = %q, want %q", cfg.Gateway.Connection, "unix:///run/pvgate-d.sock")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}

	if cfg.Gateway.Connection == "" {
		t.Error("defaultConfig should have non-empty Gateway.Connection")
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
