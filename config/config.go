package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"transcribe-api/constant"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App         App         `yaml:"app"`
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
	Storage     Storage     `yaml:"storage"`
	Transcriber Transcriber `yaml:"transcriber"`
	Queue       Queue       `yaml:"queue"`
	RabbitMQ    *RabbitMQ   `yaml:"rabbitmq"`
	MinIO       MinIO       `yaml:"minio"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort    string `yaml:"http_port"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

type Database struct {
	Driver constant.DatabaseDriver `yaml:"driver"`
	DSN    string                  `yaml:"dsn"`
	Debug  bool                    `yaml:"debug"`
}

type Storage struct {
	UploadsDir      string `yaml:"uploads_dir"`
	TranscriptsDir  string `yaml:"transcripts_dir"`
	CleanupOnDelete bool   `yaml:"cleanup_on_delete"`
	SweepSchedule   string `yaml:"sweep_schedule"`
}

type Transcriber struct {
	Backend    constant.TranscriberBackend `yaml:"backend"`
	Model      string                      `yaml:"model"`
	ModelsDir  string                      `yaml:"models_dir"`
	WhisperBin string                      `yaml:"whisper_bin"`
	FFmpegBin  string                      `yaml:"ffmpeg_bin"`
	Threads    int                         `yaml:"threads"`
	Timeout    time.Duration               `yaml:"timeout"`
	Hints      map[string]string           `yaml:"hints"`
	OpenAI     OpenAI                      `yaml:"openai"`
}

type OpenAI struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type Queue struct {
	Driver constant.QueueDriver `yaml:"driver"`
}

type MinIO struct {
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
}

// DefaultHints biases the model toward the expected script for languages it tends to
// transcribe in a foreign writing system.
var DefaultHints = map[string]string{
	"hi": "नमस्ते, यह हिंदी में ट्रांसक्रिप्शन है।",
}

// Load reads config.yaml from path when present, then applies environment overrides.
// A .env file in path is loaded into the process environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.BindEnv("transcriber.model", "WHISPER_MODEL"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.queue_size", 64)
	v.SetDefault("server.max_upload_mb", 1024)
	v.SetDefault("database.driver", string(constant.DatabaseDriverSQLite))
	v.SetDefault("database.dsn", "transcription.db")
	v.SetDefault("storage.uploads_dir", "uploads")
	v.SetDefault("storage.transcripts_dir", "transcripts")
	v.SetDefault("storage.cleanup_on_delete", false)
	v.SetDefault("storage.sweep_schedule", "")
	v.SetDefault("transcriber.backend", string(constant.TranscriberBackendWhisperCPP))
	v.SetDefault("transcriber.model", "base")
	v.SetDefault("transcriber.models_dir", "models")
	v.SetDefault("transcriber.whisper_bin", "whisper-cli")
	v.SetDefault("transcriber.ffmpeg_bin", "ffmpeg")
	v.SetDefault("transcriber.threads", 0)
	v.SetDefault("transcriber.timeout", "0s")
	v.SetDefault("transcriber.hints", DefaultHints)
	v.SetDefault("transcriber.openai.url", "https://api.openai.com/v1")
	v.SetDefault("transcriber.openai.model", "whisper-1")
	v.SetDefault("queue.driver", string(constant.QueueDriverMemory))
	v.SetDefault("rabbitmq_host", "localhost")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("minio.bucket", "transcripts")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort:    v.GetString("server.port"),
			Workers:     v.GetInt("server.workers"),
			QueueSize:   v.GetInt("server.queue_size"),
			MaxUploadMB: v.GetInt64("server.max_upload_mb"),
		},
		Database: Database{
			Driver: constant.DatabaseDriver(strings.ToLower(v.GetString("database.driver"))),
			DSN:    v.GetString("database.dsn"),
			Debug:  v.GetBool("database.debug"),
		},
		Storage: Storage{
			UploadsDir:      v.GetString("storage.uploads_dir"),
			TranscriptsDir:  v.GetString("storage.transcripts_dir"),
			CleanupOnDelete: v.GetBool("storage.cleanup_on_delete"),
			SweepSchedule:   v.GetString("storage.sweep_schedule"),
		},
		Transcriber: Transcriber{
			Backend:    constant.TranscriberBackend(strings.ToLower(v.GetString("transcriber.backend"))),
			Model:      v.GetString("transcriber.model"),
			ModelsDir:  v.GetString("transcriber.models_dir"),
			WhisperBin: v.GetString("transcriber.whisper_bin"),
			FFmpegBin:  v.GetString("transcriber.ffmpeg_bin"),
			Threads:    v.GetInt("transcriber.threads"),
			Timeout:    v.GetDuration("transcriber.timeout"),
			Hints:      v.GetStringMapString("transcriber.hints"),
			OpenAI: OpenAI{
				URL:    v.GetString("transcriber.openai.url"),
				APIKey: v.GetString("transcriber.openai.api_key"),
				Model:  v.GetString("transcriber.openai.model"),
			},
		},
		Queue: Queue{
			Driver: constant.QueueDriver(strings.ToLower(v.GetString("queue.driver"))),
		},
		RabbitMQ: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
		},
		MinIO: MinIO{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Secure:          v.GetBool("minio.secure"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case constant.DatabaseDriverSQLite, constant.DatabaseDriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case constant.QueueDriverMemory, constant.QueueDriverRabbitMQ:
	default:
		return fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
	switch c.Transcriber.Backend {
	case constant.TranscriberBackendWhisperCPP, constant.TranscriberBackendOpenAI:
	default:
		return fmt.Errorf("unsupported transcriber backend %q", c.Transcriber.Backend)
	}
	if strings.TrimSpace(c.Transcriber.Model) == "" {
		c.Transcriber.Model = "base"
	}
	if c.Server.Workers < 1 {
		c.Server.Workers = 1
	}
	if c.Server.QueueSize < 1 {
		c.Server.QueueSize = 1
	}
	return nil
}

// MaxUploadBytes is the request body cap for uploads; zero disables the cap.
func (s Server) MaxUploadBytes() int64 {
	if s.MaxUploadMB <= 0 {
		return 0
	}
	return s.MaxUploadMB << 20
}
