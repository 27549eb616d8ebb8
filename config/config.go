package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	TlsCert string `yaml:"tls_cert" json:"tls_cert"`
	TlsKey  string `yaml:"tls_key" json:"tls_key"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// GatewayConfig tunes the messaging core. Durations are given in
// milliseconds in yaml to match the queue item delay unit.
type GatewayConfig struct {
	SessionsDir      string `yaml:"sessions_dir" json:"sessions_dir"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
	RestoreDelayMs   int    `yaml:"restore_delay_ms" json:"restore_delay_ms"`
	SnapshotSec      int    `yaml:"snapshot_sec" json:"snapshot_sec"`
	MinDelayMs       int    `yaml:"min_delay_ms" json:"min_delay_ms"`
	DefaultDelayMs   int    `yaml:"default_delay_ms" json:"default_delay_ms"`
	MaxTargets       int    `yaml:"max_targets" json:"max_targets"`
}

type GenaiConfig struct {
	GeminiApiKey string `yaml:"gemini_api_key" json:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model" json:"gemini_model"`
	OllamaUrl    string `yaml:"ollama_url" json:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model" json:"ollama_model"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Database DBConfig      `yaml:"database" json:"database"`
	Gateway  GatewayConfig `yaml:"gateway" json:"gateway"`
	Genai    GenaiConfig   `yaml:"genai" json:"genai"`
	Logger   LogConfig     `yaml:"logger" json:"logger"`
}

func (c *AppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Gateway.ReconnectDelayMs) * time.Millisecond
}

func (c *AppConfig) RestoreDelay() time.Duration {
	return time.Duration(c.Gateway.RestoreDelayMs) * time.Millisecond
}

func (c *AppConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.Gateway.SnapshotSec) * time.Second
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "WaGate",
			Location: "Asia/Jakarta",
			Workdir:  "/var/wagate",
			Debug:    true,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DBConfig{
			Type:     "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "wagate",
			User:     "postgres",
			Passwd:   "",
			MaxConn:  100,
			IdleConn: 10,
		},
		Gateway: GatewayConfig{
			SessionsDir:      "",
			ReconnectDelayMs: 3000,
			RestoreDelayMs:   2000,
			SnapshotSec:      10,
			MinDelayMs:       3000,
			DefaultDelayMs:   5000,
			MaxTargets:       50,
		},
		Genai: GenaiConfig{
			GeminiModel: "gemini-2.0-flash",
			OllamaUrl:   "http://localhost:11434",
			OllamaModel: "mistral",
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: true,
			Filename:   "/var/wagate/wagate.log",
		},
	}
}

// LoadConfig reads yaml config from path and applies environment
// overrides. A missing file yields the default configuration.
func LoadConfig(path string) *AppConfig {
	cfg := DefaultAppConfig()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}
	setEnvValue("WAGATE_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WAGATE_WEB_HOST", &cfg.Web.Host)
	setEnvIntValue("WAGATE_WEB_PORT", &cfg.Web.Port)
	setEnvValue("WAGATE_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WAGATE_DB_HOST", &cfg.Database.Host)
	setEnvIntValue("WAGATE_DB_PORT", &cfg.Database.Port)
	setEnvValue("WAGATE_DB_NAME", &cfg.Database.Name)
	setEnvValue("WAGATE_DB_USER", &cfg.Database.User)
	setEnvValue("WAGATE_DB_PASSWD", &cfg.Database.Passwd)
	setEnvValue("WAGATE_GEMINI_API_KEY", &cfg.Genai.GeminiApiKey)
	setEnvValue("WAGATE_OLLAMA_URL", &cfg.Genai.OllamaUrl)
	setEnvBoolValue("WAGATE_SYSTEM_DEBUG", &cfg.System.Debug)

	if cfg.Gateway.SessionsDir == "" {
		cfg.Gateway.SessionsDir = filepath.Join(cfg.System.Workdir, "sessions")
	}
	return cfg
}

func setEnvValue(name string, val *string) {
	if v, ok := os.LookupEnv(name); ok {
		*val = v
	}
}

func setEnvIntValue(name string, val *int) {
	if v, ok := os.LookupEnv(name); ok {
		*val = cast.ToInt(v)
	}
}

func setEnvBoolValue(name string, val *bool) {
	if v, ok := os.LookupEnv(name); ok {
		*val = cast.ToBool(v)
	}
}
