package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"goldlink/internal/model"
)

var ErrConfigPathIsEmpty = errors.New("config path is empty")

type Config struct {
	App        `yaml:"app"`
	Logger     `yaml:"log"`
	Database   `yaml:"database"`
	Redis      `yaml:"redis"`
	HTTPServer `yaml:"http_server"`
	Session    `yaml:"session"`
	Mailbox    `yaml:"mailbox"`
	Kafka      `yaml:"kafka"`
	Key        `yaml:"key"`
	Geo        `yaml:"geo"`
}

type App struct {
	ServiceName   string      `yaml:"service_name"`
	Version       string      `yaml:"version"`
	AppID         model.AppID `yaml:"app_id" env:"APP_ID"`
	SeedDemoUsers int         `yaml:"seed_demo_users"`
}

type Logger struct {
	Level      string   `yaml:"level"`
	FormatJSON bool     `yaml:"format_json"`
	Rotation   Rotation `yaml:"rotation"`
}

type Rotation struct {
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type Database struct {
	Host      string    `yaml:"host"`
	Port      uint16    `yaml:"port"`
	User      string    `yaml:"user"`
	Password  string    `yaml:"password"`
	Name      string    `yaml:"name"`
	SSLMode   string    `yaml:"ssl_mode"`
	MaxConns  int32     `yaml:"max_conns"`
	MinConns  int32     `yaml:"min_conns"`
	Migration Migration `yaml:"migration"`
}

type Migration struct {
	Path      string `yaml:"path"`
	AutoApply bool   `yaml:"auto_apply"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HTTPServer struct {
	Host     string  `yaml:"host"`
	Port     uint16  `yaml:"port"`
	BasePath string  `yaml:"base_path"`
	Timeout  Timeout `yaml:"timeout"`
	CORS     CORS    `yaml:"cors"`
}

type Timeout struct {
	Request time.Duration `yaml:"request"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
	Idle    time.Duration `yaml:"idle"`
}

type CORS struct {
	Enabled          bool          `yaml:"enabled"`
	AllowAllOrigins  bool          `yaml:"allow_all_origins"`
	AllowOrigins     []string      `yaml:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// Session controls the unified session manager: inactivity timeout for app
// sessions and the expiry monitor cadence.
type Session struct {
	Timeout         time.Duration `yaml:"timeout" env-default:"24h"`
	MonitorInterval time.Duration `yaml:"monitor_interval" env-default:"60s"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"15m"`
}

// Mailbox controls the message store and delivery scheduler. Cap bounds
// pending messages per destination app; Budget bounds one flush cycle.
type Mailbox struct {
	Cap            int           `yaml:"cap" env-default:"10000"`
	FlushInterval  time.Duration `yaml:"flush_interval" env-default:"5s"`
	Budget         int           `yaml:"budget" env-default:"256"`
	PersistRetries int           `yaml:"persist_retries" env-default:"3"`
}

type Kafka struct {
	Enable     bool       `yaml:"enable"`
	Brokers    []string   `yaml:"brokers"`
	Subscriber Subscriber `yaml:"subscriber"`
	Producer   Producer   `yaml:"producer"`
}

type Subscriber struct {
	Name        string `yaml:"name"`
	WorkerCount int    `yaml:"worker_count"`
	Topic       string `yaml:"topic"`
	GroupID     string `yaml:"group_id"`
}

type Producer struct {
	Name         string        `yaml:"name"`
	WorkerCount  int           `yaml:"worker_count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Topic        string        `yaml:"topic"`
}

type Key struct {
	PublicKey  string `yaml:"public"`
	PrivateKey string `yaml:"private"`
}

type Geo struct {
	GeoLiteCountryPath string `yaml:"geo_lite_country_path"`
	GeoLiteASNPath     string `yaml:"geo_lite_asn_path"`
}

func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}

	return cfg
}

func LoadConfig() (*Config, error) {
	path := fetchConfigPath()
	if path == "" {
		return nil, ErrConfigPathIsEmpty
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var config Config

	if err := cleanenv.ReadConfig(path, &config); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return &config, nil
}

func MustPrintConfig(cfg *Config) {
	if err := PrintConfig(cfg); err != nil {
		panic(err)
	}
}

func PrintConfig(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	println(string(data))

	return nil
}

var configPathFlag = flag.String("config", "", "Path to config file")

func fetchConfigPath() string {
	if !flag.Parsed() {
		flag.Parse()
	}

	result := *configPathFlag
	if result == "" {
		result = os.Getenv("CONFIG_PATH")
	}

	return result
}
