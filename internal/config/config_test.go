package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
client:
  url: wss://stream.example.com/ws
  transport: coder
  handshake_timeout: 3s
  headers:
    X-Api-Key: abc
logging:
  level: debug
  format: json
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Client.URL != "wss://stream.example.com/ws" {
		t.Errorf("Client.URL = %q, want %q", cfg.Client.URL, "wss://stream.example.com/ws")
	}
	if cfg.Client.Transport != "coder" {
		t.Errorf("Client.Transport = %q, want %q", cfg.Client.Transport, "coder")
	}
	if cfg.Client.HandshakeTimeout != 3*time.Second {
		t.Errorf("Client.HandshakeTimeout = %v, want 3s", cfg.Client.HandshakeTimeout)
	}
	if got := cfg.Client.HTTPHeader().Get("X-Api-Key"); got != "abc" {
		t.Errorf("header X-Api-Key = %q, want %q", got, "abc")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_WS_HOST", "feed.internal:8443")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
client:
  url: wss://${TEST_WS_HOST}/ws
recorder:
  enabled: true
  database:
    host: localhost
    name: wsclient
    user: recorder
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Client.URL != "wss://feed.internal:8443/ws" {
		t.Errorf("Client.URL = %q", cfg.Client.URL)
	}
	if cfg.Recorder.Database.Password != "secret123" {
		t.Errorf("Recorder.Database.Password = %q, want %q", cfg.Recorder.Database.Password, "secret123")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("Load error = %v, want read config file error", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("client: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Fatalf("Parse error = %v, want parse config yaml error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "client:\n  url: ws://localhost:8080/ws\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Client.Transport != DefaultTransport {
		t.Errorf("Client.Transport = %q, want default %q", cfg.Client.Transport, DefaultTransport)
	}
	if cfg.Client.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("Client.HandshakeTimeout = %v, want default %v", cfg.Client.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Client.ReadLimit != DefaultReadLimit {
		t.Errorf("Client.ReadLimit = %d, want default %d", cfg.Client.ReadLimit, DefaultReadLimit)
	}
	if cfg.Recorder.Database.Port != DefaultDBPort {
		t.Errorf("Recorder.Database.Port = %d, want default %d", cfg.Recorder.Database.Port, DefaultDBPort)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Client.HTTPHeader() != nil {
		t.Errorf("HTTPHeader() = %v, want nil", cfg.Client.HTTPHeader())
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "client:\n  transport: gorilla\n")

	_, err := LoadAndValidate(path)
	if err == nil || err.Error() != "validate config: client.url is required" {
		t.Fatalf("LoadAndValidate error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	validDB := DBConfig{Host: "localhost", Port: 5432, Name: "db", User: "user", Password: "pass", MaxConns: 4, MinConns: 1}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing url",
			cfg:     Config{},
			wantErr: "client.url is required",
		},
		{
			name:    "http scheme",
			cfg:     Config{Client: ClientConfig{URL: "http://localhost/ws"}},
			wantErr: `client.url must use ws or wss, got "http"`,
		},
		{
			name:    "unknown transport",
			cfg:     Config{Client: ClientConfig{URL: "ws://localhost/ws", Transport: "nhooyr"}},
			wantErr: `client.transport must be gorilla or coder, got "nhooyr"`,
		},
		{
			name:    "negative write timeout",
			cfg:     Config{Client: ClientConfig{URL: "ws://localhost/ws", WriteTimeout: -time.Second}},
			wantErr: "client.write_timeout must be >= 0",
		},
		{
			name:    "bad log format",
			cfg:     Config{Client: ClientConfig{URL: "ws://localhost/ws"}, Logging: LoggingConfig{Format: "xml"}},
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name: "recorder disabled skips database",
			cfg:  Config{Client: ClientConfig{URL: "ws://localhost/ws"}},
		},
		{
			name: "recorder missing password",
			cfg: Config{
				Client: ClientConfig{URL: "ws://localhost/ws"},
				Recorder: RecorderConfig{
					Enabled: true, BatchSize: 10, FlushInterval: time.Second,
					Database: DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 1},
				},
			},
			wantErr: "recorder.database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			cfg: Config{
				Client: ClientConfig{URL: "ws://localhost/ws"},
				Recorder: RecorderConfig{
					Enabled: true, BatchSize: 10, FlushInterval: time.Second,
					Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5},
				},
			},
			wantErr: "recorder.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name: "recorder zero batch",
			cfg: Config{
				Client:   ClientConfig{URL: "ws://localhost/ws"},
				Recorder: RecorderConfig{Enabled: true, FlushInterval: time.Second, Database: validDB},
			},
			wantErr: "recorder.batch_size must be >= 1",
		},
		{
			name: "valid with recorder",
			cfg: Config{
				Client:   ClientConfig{URL: "wss://stream.example.com/ws", Transport: "coder"},
				Recorder: RecorderConfig{Enabled: true, BatchSize: 100, FlushInterval: time.Second, Database: validDB},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
			} else if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
