package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

const (
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// EnvPrefix prefixes environment overrides, e.g. IMGFLOW_REDIS_ADDR.
const EnvPrefix = "IMGFLOW"

type Config struct {
	Temporal Temporal `mapstructure:"temporal"`
	Worker   Worker   `mapstructure:"worker"`
	Storage  Storage  `mapstructure:"storage"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Log      Log      `mapstructure:"log"`
	Defaults Defaults `mapstructure:"defaults"`
}

type Temporal struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	// WorkflowQueue is polled by the orchestrator.
	WorkflowQueue string `mapstructure:"workflow_queue"`
	// CommonQueue is polled by every activity worker; downloads land here.
	CommonQueue string `mapstructure:"common_queue"`
	// WorkflowIDPrefix is prepended to a random UUID for each run.
	WorkflowIDPrefix string `mapstructure:"workflow_id_prefix"`
}

type Worker struct {
	LocalDir          string        `mapstructure:"local_dir"`
	Hostname          string        `mapstructure:"hostname"` // defaults to os.Hostname
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PresignExpiry     time.Duration `mapstructure:"presign_expiry"`
	AffinityTTL       time.Duration `mapstructure:"affinity_ttl"`
}

type Storage struct {
	Driver    string `mapstructure:"driver"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Profile   string `mapstructure:"profile"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Defaults feed the client when a flag is omitted.
type Defaults struct {
	SourceBucket string `mapstructure:"source_bucket"`
	DestBucket   string `mapstructure:"dest_bucket"`
	Transform    string `mapstructure:"transform"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.workflow_queue", "image-processing-workflow")
	v.SetDefault("temporal.common_queue", "image-processing-common")
	v.SetDefault("temporal.workflow_id_prefix", "image-processing-")

	v.SetDefault("worker.local_dir", "/tmp/image-processing")
	v.SetDefault("worker.hostname", "")
	v.SetDefault("worker.heartbeat_interval", 5*time.Minute)
	v.SetDefault("worker.presign_expiry", 30*time.Minute)
	v.SetDefault("worker.affinity_ttl", 30*time.Second)

	v.SetDefault("storage.driver", DriverS3)
	v.SetDefault("storage.region", "us-east-2")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "image-processing")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "image-processing-requests")
	v.SetDefault("kafka.group_id", "image-processing-intake")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("defaults.source_bucket", "")
	v.SetDefault("defaults.dest_bucket", "")
	v.SetDefault("defaults.transform", "GRAYSCALE")
}

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "config/config.yml"

// ResolvePath picks the config file to load. An explicit path is always
// used; otherwise DefaultPath is used only if present.
func ResolvePath(path string, explicit bool) string {
	if explicit {
		return path
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load reads the YAML file at path (if it exists) and applies environment
// overrides. An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Temporal.WorkflowQueue == "" {
		errs = append(errs, errors.New("temporal.workflow_queue is required"))
	}
	if c.Temporal.CommonQueue == "" {
		errs = append(errs, errors.New("temporal.common_queue is required"))
	}
	if c.Worker.LocalDir == "" {
		errs = append(errs, errors.New("worker.local_dir is required"))
	}
	if c.Worker.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("worker.heartbeat_interval must be positive"))
	}
	if c.Worker.PresignExpiry <= 0 {
		errs = append(errs, errors.New("worker.presign_expiry must be positive"))
	}
	if c.Worker.AffinityTTL <= 0 {
		errs = append(errs, errors.New("worker.affinity_ttl must be positive"))
	}
	switch c.Storage.Driver {
	case DriverS3:
	case DriverMinio:
		if c.Storage.Endpoint == "" {
			errs = append(errs, errors.New("storage.endpoint is required for minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", DriverS3, DriverMinio, c.Storage.Driver))
	}
	return errors.Join(errs...)
}
