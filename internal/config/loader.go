package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`
	Features FeaturesConfig `mapstructure:"features"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Device   DeviceConfig   `mapstructure:"device"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Store    StoreConfig    `mapstructure:"store"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string        `mapstructure:"request_id_header"`
	EnableRequestLogging bool          `mapstructure:"enable_request_logging"`
	PersistTaskEvents    bool          `mapstructure:"persist_task_events"`
	TimelineRetention    time.Duration `mapstructure:"timeline_retention"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DaemonConfig controls the controller loop.
type DaemonConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// TasksConfig holds defaults applied to pipeline runners when the caller
// does not override them through task params.
type TasksConfig struct {
	AliveTimeout    time.Duration `mapstructure:"alive_timeout"`
	CheckerInterval time.Duration `mapstructure:"checker_interval"`
}

type DeviceEndpoint struct {
	Serial     string `mapstructure:"serial"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	PrivateKey string `mapstructure:"private_key"`
}

// DeviceConfig describes the handsets the service may talk to and where the
// application keeps its data on them.
type DeviceConfig struct {
	Endpoints       []DeviceEndpoint `mapstructure:"endpoints"`
	Timeout         time.Duration    `mapstructure:"timeout"`
	MaxRetries      int              `mapstructure:"max_retries"`
	ShellRate       float64          `mapstructure:"shell_rate"`
	ShellBurst      int              `mapstructure:"shell_burst"`
	DBDir           string           `mapstructure:"db_dir"`
	ResDir          string           `mapstructure:"res_dir"`
	EncryptedDBName string           `mapstructure:"encrypted_db_name"`
	DecryptedDBName string           `mapstructure:"decrypted_db_name"`
	ResourceFolders []string         `mapstructure:"resource_folders"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// Defaults fills every zero value with the value the service ships with.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5500
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "console"
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = []string{"stdout"}
	}
	if len(c.Logger.ErrorOutputPaths) == 0 {
		c.Logger.ErrorOutputPaths = []string{"stderr"}
	}
	if c.Daemon.TickInterval <= 0 {
		c.Daemon.TickInterval = time.Second
	}
	if c.Tasks.AliveTimeout <= 0 {
		c.Tasks.AliveTimeout = 10 * time.Second
	}
	if c.Tasks.CheckerInterval <= 0 {
		c.Tasks.CheckerInterval = time.Second
	}
	if c.Device.Timeout <= 0 {
		c.Device.Timeout = 30 * time.Second
	}
	if c.Device.DBDir == "" {
		c.Device.DBDir = "/data/data/com.tencent.mm"
	}
	if c.Device.ResDir == "" {
		c.Device.ResDir = "/mnt/sdcard/tencent/MicroMsg"
	}
	if c.Device.EncryptedDBName == "" {
		c.Device.EncryptedDBName = "EnMicroMsg"
	}
	if c.Device.DecryptedDBName == "" {
		c.Device.DecryptedDBName = "DeMicroMsg"
	}
	if len(c.Device.ResourceFolders) == 0 {
		c.Device.ResourceFolders = []string{"avatar", "emoji", "sfs", "voice2", "image2", "video"}
	}
	if c.Features.TimelineRetention <= 0 {
		c.Features.TimelineRetention = 7 * 24 * time.Hour
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DEVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Defaults()

	return &cfg, nil
}
