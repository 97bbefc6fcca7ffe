package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "CONFIG_PATH"

// Config is injected into every component at construction. Nothing reads
// credentials or thresholds from globals after Load returns.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`

	ScoringURL      string        `yaml:"scoringUrl"`
	AuthorityEmail  string        `yaml:"authorityEmail"`
	Thresholds      Thresholds    `yaml:"thresholds"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed"`

	ScratchDir string       `yaml:"scratchDir"`
	Audio      AudioConfig  `yaml:"audio"`
	Speech     SpeechConfig `yaml:"speech"`

	Firebase  FirebaseConfig  `yaml:"firebase"`
	Directory DirectoryConfig `yaml:"directory"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type Thresholds struct {
	Authority float64 `yaml:"authority"`
	Contacts  float64 `yaml:"contacts"`
}

type AudioConfig struct {
	FFmpegPath string `yaml:"ffmpegPath"`
	// TargetRate is the sample rate requested from ffmpeg. Zero keeps the source rate.
	TargetRate int `yaml:"targetRate"`
}

type SpeechConfig struct {
	LanguageCode string `yaml:"languageCode"`
	Mock         bool   `yaml:"mock"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"projectId"`
	DatabaseURL     string `yaml:"databaseUrl"`
	StorageBucket   string `yaml:"storageBucket"`
	CredentialsFile string `yaml:"credentialsFile"`
}

type DirectoryConfig struct {
	Backend  string        `yaml:"backend"` // rtdb | yaml | xlsx
	Path     string        `yaml:"path"`
	CacheTTL time.Duration `yaml:"cacheTtl"`
}

// SMTPConfig holds mail submission settings. Password is never read from the
// YAML file: it comes from SMTP_PASSWORD or the file named by SMTP_PASSWORD_FILE.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	From     string `yaml:"from"`
}

type NotifyConfig struct {
	Concurrency  int     `yaml:"concurrency"`
	MailRate     float64 `yaml:"mailRate"`
	MailBurst    int     `yaml:"mailBurst"`
	PushDisabled bool    `yaml:"pushDisabled"`
}

func Default() Config {
	return Config{
		Port:        "8080",
		Environment: "local",
		ScoringURL:  "http://localhost:8000",
		Thresholds:  Thresholds{Authority: 90, Contacts: 75},
		Timeout:     60 * time.Second,
		ScratchDir:  os.TempDir(),
		Audio:       AudioConfig{FFmpegPath: "ffmpeg", TargetRate: 16000},
		Speech:      SpeechConfig{LanguageCode: "ko-KR"},
		Directory:   DirectoryConfig{Backend: "rtdb", CacheTTL: 5 * time.Minute},
		SMTP:        SMTPConfig{Host: "smtp.gmail.com", Port: 587},
		Notify:      NotifyConfig{Concurrency: 8, MailRate: 5, MailBurst: 5},
	}
}

// Load reads .env, then the optional YAML file at $CONFIG_PATH, then applies
// environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load() // loads .env

	cfg := Default()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("ENVIRONMENT", &c.Environment)
	str("SCORING_URL", &c.ScoringURL)
	str("AUTHORITY_EMAIL", &c.AuthorityEmail)
	str("SCRATCH_DIR", &c.ScratchDir)
	str("FFMPEG_PATH", &c.Audio.FFmpegPath)
	str("SPEECH_LANGUAGE", &c.Speech.LanguageCode)
	str("FIREBASE_PROJECT_ID", &c.Firebase.ProjectID)
	str("FIREBASE_DATABASE_URL", &c.Firebase.DatabaseURL)
	str("FIREBASE_STORAGE_BUCKET", &c.Firebase.StorageBucket)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Firebase.CredentialsFile)
	str("DIRECTORY_BACKEND", &c.Directory.Backend)
	str("DIRECTORY_PATH", &c.Directory.Path)
	str("SMTP_HOST", &c.SMTP.Host)
	str("SMTP_USER", &c.SMTP.Username)
	str("SMTP_FROM", &c.SMTP.From)
	str("SMTP_PASSWORD", &c.SMTP.Password)

	if path := os.Getenv("SMTP_PASSWORD_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read SMTP_PASSWORD_FILE: %w", err)
		}
		c.SMTP.Password = strings.TrimSpace(string(b))
	}
	if os.Getenv("USE_MOCK_TRANSCRIBE") == "true" {
		c.Speech.Mock = true
	}
	if os.Getenv("DISABLE_PUSH") == "true" {
		c.Notify.PushDisabled = true
	}

	var errs []error
	num := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num("AUTHORITY_THRESHOLD", &c.Thresholds.Authority)
	num("CONTACT_THRESHOLD", &c.Thresholds.Contacts)
	num("MAIL_RATE", &c.Notify.MailRate)
	integer("MAIL_BURST", &c.Notify.MailBurst)
	integer("NOTIFY_CONCURRENCY", &c.Notify.Concurrency)
	integer("SMTP_PORT", &c.SMTP.Port)
	integer("AUDIO_TARGET_RATE", &c.Audio.TargetRate)
	dur("INCIDENT_TIMEOUT", &c.Timeout)
	dur("RETRY_MAX_ELAPSED", &c.RetryMaxElapsed)
	dur("DIRECTORY_CACHE_TTL", &c.Directory.CacheTTL)
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ScoringURL) == "" {
		return errors.New("config: scoring url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	switch c.Directory.Backend {
	case "rtdb":
	case "yaml", "xlsx":
		if c.Directory.Path == "" {
			return fmt.Errorf("config: directory backend %q needs a path", c.Directory.Backend)
		}
	default:
		return fmt.Errorf("config: unknown directory backend %q", c.Directory.Backend)
	}
	return nil
}
