package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort                 = 8080
	defaultDataDir              = "data"
	defaultMaxFiles             = 3
	defaultMaxFileSize          = 5 << 20
	defaultMaxConcurrentUploads = 3
	defaultUploadTimeout        = 30 * time.Second
	defaultPreviewSize          = 320
	defaultMaxOpenForms         = 100
	defaultIdleTimeout          = 30 * time.Minute
	defaultSweepSchedule        = "@every 1m"

	envS3AccessKey     = "GATOTKOTA_S3_ACCESS_KEY"
	envS3SecretKey     = "GATOTKOTA_S3_SECRET_KEY"
	envStorageEndpoint = "GATOTKOTA_STORAGE_ENDPOINT"
)

// Config describes runtime configuration for the service and the CLI.
type Config struct {
	Port    int     `yaml:"port"`
	DataDir string  `yaml:"data_dir"`
	Upload  Upload  `yaml:"upload"`
	Preview Preview `yaml:"preview"`
	Form    Form    `yaml:"form"`
	Storage Storage `yaml:"storage"`
}

type Upload struct {
	MaxFiles             int           `yaml:"max_files"`
	MaxFileSize          int64         `yaml:"max_file_size"`
	AllowedTypes         []string      `yaml:"allowed_types"`
	MaxConcurrentUploads int           `yaml:"max_concurrent_uploads"`
	Timeout              time.Duration `yaml:"timeout"`
}

type Preview struct {
	Size int `yaml:"size"`
}

type Form struct {
	MaxOpen       int           `yaml:"max_open"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// Storage selects and configures the object-storage endpoint.
type Storage struct {
	Backend      string `yaml:"backend"`
	Endpoint     string `yaml:"endpoint"`
	UploadPreset string `yaml:"upload_preset"`
	Folder       string `yaml:"folder"`
	S3           S3     `yaml:"s3"`
}

type S3 struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:    defaultPort,
		DataDir: defaultDataDir,
		Upload: Upload{
			MaxFiles:             defaultMaxFiles,
			MaxFileSize:          defaultMaxFileSize,
			AllowedTypes:         []string{"image/jpeg", "image/png"},
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
			Timeout:              defaultUploadTimeout,
		},
		Preview: Preview{Size: defaultPreviewSize},
		Form: Form{
			MaxOpen:       defaultMaxOpenForms,
			IdleTimeout:   defaultIdleTimeout,
			SweepSchedule: defaultSweepSchedule,
		},
		Storage: Storage{
			Backend: "preset",
			Folder:  "gatotkota",
			S3:      S3{Region: "us-east-1"},
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. Secrets from the
// environment override the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.Upload.MaxFiles < 1 {
		return fmt.Errorf("invalid upload.max_files: %d (must be >= 1)", c.Upload.MaxFiles)
	}
	if c.Upload.MaxFileSize < 1 {
		return fmt.Errorf("invalid upload.max_file_size: %d (must be >= 1)", c.Upload.MaxFileSize)
	}
	if c.Upload.MaxConcurrentUploads < 1 {
		return fmt.Errorf("invalid upload.max_concurrent_uploads: %d (must be >= 1)", c.Upload.MaxConcurrentUploads)
	}
	if c.Upload.Timeout <= 0 {
		c.Upload.Timeout = defaultUploadTimeout
	}
	if c.Preview.Size <= 0 {
		c.Preview.Size = defaultPreviewSize
	}
	if c.Form.MaxOpen <= 0 {
		c.Form.MaxOpen = defaultMaxOpenForms
	}
	if c.Form.IdleTimeout <= 0 {
		c.Form.IdleTimeout = defaultIdleTimeout
	}
	if strings.TrimSpace(c.Form.SweepSchedule) == "" {
		c.Form.SweepSchedule = defaultSweepSchedule
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Upload.AllowedTypes = normalizeTypes(c.Upload.AllowedTypes)
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(envS3AccessKey); v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v := os.Getenv(envS3SecretKey); v != "" {
		c.Storage.S3.SecretKey = v
	}
	if v := os.Getenv(envStorageEndpoint); v != "" {
		c.Storage.Endpoint = v
	}
}

func normalizeTypes(in []string) []string {
	if len(in) == 0 {
		return []string{"image/jpeg", "image/png"}
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.Contains(t, "/") {
			t = "image/" + t
		}
		if t == "image/jpg" {
			t = "image/jpeg"
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		normalized = append(normalized, t)
	}
	return normalized
}
