package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	configName = "config"
	configType = "yaml"

	// HS256 signing key floor
	minSessionSecret = 32
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Session struct {
		Secret string        `mapstructure:"SECRET"`
		TTL    time.Duration `mapstructure:"TTL"`
	} `mapstructure:"SESSION"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs string `mapstructure:"ADDR"`
		Topic string `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Participation struct {
		IdempotencyTTL  time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
		DefaultPageSize int           `mapstructure:"DEFAULT_PAGE_SIZE"`
		MaxPageSize     int           `mapstructure:"MAX_PAGE_SIZE"`
	} `mapstructure:"PARTICIPATION"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

// LoadConfig reads config.yaml from CONFIG_PATH (or the working directory)
// and applies environment overrides.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "participation")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("NODE_ID", 1)

	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")

	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("PYROSCOPE.ADDR", "")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("SESSION.SECRET", "")
	v.SetDefault("SESSION.TTL", 12*time.Hour)

	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "britepool.db")
	v.SetDefault("DATABASE.USER", "")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.METRICS", false)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)

	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)

	v.SetDefault("KAFKA.ADDR", "")
	v.SetDefault("KAFKA.TOPIC", "participation.entry.decided")

	v.SetDefault("ACCESS_CONTROL.MODEL", "")
	v.SetDefault("ACCESS_CONTROL.POLICY", "")

	v.SetDefault("PARTICIPATION.IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("PARTICIPATION.DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("PARTICIPATION.MAX_PAGE_SIZE", 100)
}

func (c *Config) Validate() error {
	if c.IsProduction() && c.Session.Secret == "" {
		return fmt.Errorf("SESSION.SECRET must be set in production")
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < minSessionSecret {
		return fmt.Errorf("SESSION.SECRET must be at least %d bytes", minSessionSecret)
	}
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}
	if c.Participation.DefaultPageSize <= 0 || c.Participation.MaxPageSize < c.Participation.DefaultPageSize {
		return fmt.Errorf("invalid participation page sizes: default=%d max=%d",
			c.Participation.DefaultPageSize, c.Participation.MaxPageSize)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Brokers splits KAFKA.ADDR on commas.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.Kafka.Addrs, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
