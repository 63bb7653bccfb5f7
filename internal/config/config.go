package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	SIS      SISConfig      `yaml:"sis"`
	Sync     SyncConfig     `yaml:"sync"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Rules    RulesConfig    `yaml:"rules"`
	Notify   NotifyConfig   `yaml:"notify"`
	Workers  WorkersConfig  `yaml:"workers"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "memory".
	Driver             string        `yaml:"driver" validate:"oneof=mysql memory"`
	Host               string        `yaml:"host" validate:"required_if=Driver mysql"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name" validate:"required_if=Driver mysql"`
	Charset            string        `yaml:"charset"`
	ParseTime          bool          `yaml:"parse_time"`
	Loc                string        `yaml:"loc"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
}

type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	ProcessQueue string `yaml:"process_queue" validate:"required"`
	ImportQueue  string `yaml:"import_queue" validate:"required"`
	DLQSuffix    string `yaml:"dlq_suffix"`
	LockPrefix   string `yaml:"lock_prefix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type SISConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	GradesEndpoint string        `yaml:"grades_endpoint" validate:"required"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	// RolledMarkers are substrings of a SIS message marking a closed record.
	RolledMarkers []string `yaml:"rolled_markers"`
}

type SyncConfig struct {
	LockWait time.Duration `yaml:"lock_wait" validate:"gt=0"`
	LockTTL  time.Duration `yaml:"lock_ttl" validate:"gtfield=LockWait"`
}

type SweepConfig struct {
	Cooldown time.Duration `yaml:"cooldown" validate:"gt=0"`
	Schedule string        `yaml:"schedule" validate:"required"`
}

type RulesConfig struct {
	FailingGrades          []string `yaml:"failing_grades"`
	IncompleteGrades       []string `yaml:"incomplete_grades"`
	DefaultIncompleteGrade string   `yaml:"default_incomplete_grade"`
	// IncompleteWindow is how far past the course end an incomplete deadline may go.
	IncompleteWindow time.Duration `yaml:"incomplete_window"`
}

type NotifyConfig struct {
	// Provider is "sendgrid" or "log".
	Provider       string `yaml:"provider" validate:"oneof=sendgrid log"`
	SendGridAPIKey string `yaml:"sendgrid_api_key" validate:"required_if=Provider sendgrid"`
	FromEmail      string `yaml:"from_email" validate:"omitempty,email"`
	FromName       string `yaml:"from_name"`
	GradesURL      string `yaml:"grades_url"`
}

type WorkersConfig struct {
	Sync   SyncWorkerConfig   `yaml:"sync"`
	Import ImportWorkerConfig `yaml:"import"`
}

type SyncWorkerConfig struct {
	Count int `yaml:"count" validate:"gte=1"`
}

type ImportWorkerConfig struct {
	Count int `yaml:"count" validate:"gte=1"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load() (*Config, error) {
	// .env is optional; it only seeds the environment.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults and environment overrides, then validates.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "sis-gradesync"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Loc == "" {
		c.Database.Loc = "UTC"
	}
	// grade_records relies on DATETIME scanning into time.Time.
	c.Database.ParseTime = true
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.ProcessQueue == "" {
		c.Redis.ProcessQueue = "gradesync:process"
	}
	if c.Redis.ImportQueue == "" {
		c.Redis.ImportQueue = "gradesync:import"
	}
	if c.Redis.DLQSuffix == "" {
		c.Redis.DLQSuffix = ":dlq"
	}
	if c.Redis.LockPrefix == "" {
		c.Redis.LockPrefix = "gradesync:lock:"
	}
	if c.SIS.GradesEndpoint == "" {
		c.SIS.GradesEndpoint = "/api/coursesection/grades"
	}
	if c.SIS.Timeout == 0 {
		c.SIS.Timeout = 60 * time.Second
	}
	if len(c.SIS.RolledMarkers) == 0 {
		c.SIS.RolledMarkers = []string{"GE09"}
	}
	if c.Sync.LockWait == 0 {
		c.Sync.LockWait = 10 * time.Second
	}
	if c.Sync.LockTTL == 0 {
		c.Sync.LockTTL = 600 * time.Second
	}
	if c.Sweep.Cooldown == 0 {
		c.Sweep.Cooldown = 300 * time.Second
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 1m"
	}
	if len(c.Rules.FailingGrades) == 0 {
		c.Rules.FailingGrades = []string{"F", "Fail"}
	}
	if len(c.Rules.IncompleteGrades) == 0 {
		c.Rules.IncompleteGrades = []string{"I"}
	}
	if c.Rules.DefaultIncompleteGrade == "" {
		c.Rules.DefaultIncompleteGrade = "F"
	}
	if c.Rules.IncompleteWindow == 0 {
		c.Rules.IncompleteWindow = 365 * 24 * time.Hour
	}
	if c.Notify.Provider == "" {
		c.Notify.Provider = "log"
	}
	if c.Workers.Sync.Count == 0 {
		c.Workers.Sync.Count = 4
	}
	if c.Workers.Import.Count == 0 {
		c.Workers.Import.Count = 1
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"SIS_USERNAME":     &c.SIS.Username,
		"SIS_PASSWORD":     &c.SIS.Password,
		"DB_PASSWORD":      &c.Database.Password,
		"REDIS_PASSWORD":   &c.Redis.Password,
		"SENDGRID_API_KEY": &c.Notify.SendGridAPIKey,
		"S3_ACCESS_KEY":    &c.Storage.S3.AccessKey,
		"S3_SECRET_KEY":    &c.Storage.S3.SecretKey,
	}
	for key, target := range overrides {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
}

// MySQL DSN format: [username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s&clientFoundRows=true",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.Charset, c.Database.ParseTime, c.Database.Loc)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// SISGradesURL is the full URL of the grade submission endpoint.
func (c *Config) SISGradesURL() string {
	return c.SIS.BaseURL + c.SIS.GradesEndpoint
}
