package config

import (
	"database/sql"
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"path/filepath"
	"strings"
	"time"
)

var ErrInvalidScheduler = errors.New("invalid scheduler configuration")

type Config struct {
	MinIOBucket   string        `yaml:"minio_bucket"`
	App           App           `yaml:"app"`
	DB            *sql.DB       `yaml:"db"`
	Queue         *RabbitMQ     `yaml:"rabbitmq"`
	Storage       *minio.Client `yaml:"storage"`
	Server        Server        `yaml:"server"`
	Scheduler     Scheduler     `yaml:"scheduler"`
	Collaborators Collaborators `yaml:"collaborators"`
	Redis         Redis         `yaml:"redis"`
	Enhancer      Enhancer      `yaml:"enhancer"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Pass            string        `json:"pass"`
	Vhost           string        `json:"vhost"`
	ExchangeName    string        `json:"exchange_name"`
	Kind            string        `json:"kind"`
	DialAttempts    uint          `json:"dial_attempts"`
	DialMaxInterval time.Duration `json:"dial_max_interval"`
}

// Scheduler drives both the due-time computation and the sweep loop.
// DeferralDays applies to courses with a class time, DeferralInterval to the rest.
type Scheduler struct {
	SweepPeriod      time.Duration  `yaml:"sweep_period"`
	DeferralDays     int            `yaml:"deferral_days"`
	DeferralInterval time.Duration  `yaml:"deferral_interval"`
	TimeZone         string         `yaml:"time_zone"`
	Location         *time.Location `yaml:"-"`
	ClaimTTL         time.Duration  `yaml:"claim_ttl"`
	Workers          int            `yaml:"workers"`
	BatchSize        int            `yaml:"batch_size"`
	WithContributors bool           `yaml:"with_contributors"`
}

type Collaborators struct {
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Enhancer toggles the page crop stage, which is off unless configured.
type Enhancer struct {
	DocumentDetection bool `yaml:"document_detection"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_kind", "direct")
	viper.SetDefault("rabbitmq_vhost", "/")
	viper.SetDefault("rabbitmq_dial_attempts", 5)
	viper.SetDefault("rabbitmq_dial_max_interval", 10*time.Second)
	viper.SetDefault("scheduler.sweep_period", time.Hour)
	viper.SetDefault("scheduler.deferral_days", 1)
	viper.SetDefault("scheduler.deferral_interval", 10*time.Minute)
	viper.SetDefault("scheduler.time_zone", "UTC")
	viper.SetDefault("scheduler.claim_ttl", 30*time.Minute)
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.batch_size", 100)
	viper.SetDefault("collaborators.model", "gemini-2.5-flash")
	viper.SetDefault("collaborators.timeout", 60*time.Second)
	viper.SetDefault("collaborators.cache_ttl", 24*time.Hour)
	viper.SetDefault("redis.prefix", "notes:")
	viper.SetDefault("enhancer.document_detection", false)
}

func Load(path string) (*Config, error) {
	// .env is optional; it only seeds variables such as GEMINI_API_KEY.
	_ = godotenv.Load(filepath.Join(path, ".env"))

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	scheduler, err := loadScheduler()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:            viper.GetString("rabbitmq_host"),
		Port:            viper.GetInt("rabbitmq_port"),
		User:            viper.GetString("rabbitmq_user"),
		Pass:            viper.GetString("rabbitmq_pass"),
		Vhost:           viper.GetString("rabbitmq_vhost"),
		Kind:            viper.GetString("rabbitmq_kind"),
		DialAttempts:    viper.GetUint("rabbitmq_dial_attempts"),
		DialMaxInterval: viper.GetDuration("rabbitmq_dial_max_interval"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	apiKey := viper.GetString("collaborators.api_key")
	if apiKey == "" {
		apiKey = viper.GetString("gemini_api_key")
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Scheduler: scheduler,
		Collaborators: Collaborators{
			APIKey:   apiKey,
			Model:    viper.GetString("collaborators.model"),
			Timeout:  viper.GetDuration("collaborators.timeout"),
			CacheTTL: viper.GetDuration("collaborators.cache_ttl"),
		},
		Redis: Redis{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Prefix:   viper.GetString("redis.prefix"),
		},
		Enhancer: Enhancer{
			DocumentDetection: viper.GetBool("enhancer.document_detection"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}

func loadScheduler() (Scheduler, error) {
	s := Scheduler{
		SweepPeriod:      viper.GetDuration("scheduler.sweep_period"),
		DeferralDays:     viper.GetInt("scheduler.deferral_days"),
		DeferralInterval: viper.GetDuration("scheduler.deferral_interval"),
		TimeZone:         viper.GetString("scheduler.time_zone"),
		ClaimTTL:         viper.GetDuration("scheduler.claim_ttl"),
		Workers:          viper.GetInt("scheduler.workers"),
		BatchSize:        viper.GetInt("scheduler.batch_size"),
		WithContributors: viper.GetBool("scheduler.with_contributors"),
	}
	if err := s.Validate(); err != nil {
		return Scheduler{}, err
	}
	return s, nil
}

// Validate checks the deferral constants and resolves the default time zone.
// Any error here must stop the process: due times cannot be computed without them.
func (s *Scheduler) Validate() error {
	if s.SweepPeriod <= 0 {
		return fmt.Errorf("%w: sweep_period must be positive, got %s", ErrInvalidScheduler, s.SweepPeriod)
	}
	if s.DeferralDays < 1 {
		return fmt.Errorf("%w: deferral_days must be at least 1, got %d", ErrInvalidScheduler, s.DeferralDays)
	}
	if s.DeferralInterval <= 0 {
		return fmt.Errorf("%w: deferral_interval must be positive, got %s", ErrInvalidScheduler, s.DeferralInterval)
	}
	if s.ClaimTTL <= 0 {
		return fmt.Errorf("%w: claim_ttl must be positive, got %s", ErrInvalidScheduler, s.ClaimTTL)
	}
	if s.TimeZone == "" {
		return fmt.Errorf("%w: time_zone is required", ErrInvalidScheduler)
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return fmt.Errorf("%w: time_zone %q: %v", ErrInvalidScheduler, s.TimeZone, err)
	}
	s.Location = loc
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.BatchSize < 1 {
		s.BatchSize = 100
	}
	return nil
}
