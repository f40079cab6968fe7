// Package config loads and validates the YAML configuration file: a
// general block plus a list of repositories, each APT or RPM, each
// mirrored to a local path or an S3-compatible bucket. Validation covers
// the reserved name "all", duplicate-name rejection, trailing-slash
// normalization, and public-key parse-and-verify at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zextras/reposync/internal/sig"
)

// Kind is the repository's package format.
type Kind string

const (
	KindAPT Kind = "apt"
	KindRPM Kind = "rpm"
)

// reservedRepoName is forbidden as a repository name since the CLI uses
// it to mean "every configured repo".
const reservedRepoName = "all"

// GeneralConfig is the `general` YAML block.
type GeneralConfig struct {
	DataPath      string `yaml:"data_path"`
	TmpPath       string `yaml:"tmp_path"`
	BindAddress   string `yaml:"bind_address"`
	TimeoutSec    int    `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
	RetrySleepSec int    `yaml:"retry_sleep"`
	MinSyncDelayM int    `yaml:"min_sync_delay"`
	MaxSyncDelayM int    `yaml:"max_sync_delay"`
}

func (g GeneralConfig) Timeout() time.Duration    { return time.Duration(g.TimeoutSec) * time.Second }
func (g GeneralConfig) RetrySleep() time.Duration { return time.Duration(g.RetrySleepSec) * time.Second }
func (g GeneralConfig) MinSyncDelay() time.Duration {
	return time.Duration(g.MinSyncDelayM) * time.Minute
}
func (g GeneralConfig) MaxSyncDelay() time.Duration {
	return time.Duration(g.MaxSyncDelayM) * time.Minute
}

// LocalDestination mirrors to a filesystem path.
type LocalDestination struct {
	Path string `yaml:"path"`
}

// S3Destination mirrors to an S3-compatible bucket, optionally fronted by
// a CloudFront distribution.
type S3Destination struct {
	Endpoint                 string `yaml:"endpoint"`
	Region                   string `yaml:"region"`
	Bucket                   string `yaml:"bucket"`
	Prefix                   string `yaml:"prefix"`
	AccessKey                string `yaml:"access_key"`
	SecretKey                string `yaml:"secret_key"`
	CloudFrontDistributionID string `yaml:"cloudfront_distribution_id"`
}

// RepoConfig is one `repo` list entry.
type RepoConfig struct {
	Name            string   `yaml:"name"`
	Kind            Kind     `yaml:"kind"`
	Endpoint        string   `yaml:"endpoint"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	CredentialsFile string   `yaml:"credentials_file"`
	PublicKeys      []string `yaml:"public_keys"`
	Suites          []string `yaml:"suites"`
	Components      []string `yaml:"components"`
	Architectures   []string `yaml:"architectures"`

	Local *LocalDestination `yaml:"local"`
	S3    *S3Destination    `yaml:"s3"`
}

// Config is the top-level configuration document.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Repo    []RepoConfig  `yaml:"repo"`
}

// Load reads, parses, normalizes, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalize(cfg *Config) {
	for i := range cfg.Repo {
		r := &cfg.Repo[i]
		r.Endpoint = strings.TrimSuffix(r.Endpoint, "/")
		if r.S3 != nil {
			r.S3.Endpoint = strings.TrimSuffix(r.S3.Endpoint, "/")
			r.S3.Prefix = strings.TrimSuffix(r.S3.Prefix, "/")
		}
		if r.Local != nil {
			r.Local.Path = strings.TrimSuffix(r.Local.Path, "/")
		}
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Repo))
	for _, r := range cfg.Repo {
		if r.Name == "" {
			return fmt.Errorf("config: repository name must not be empty")
		}
		if r.Name == reservedRepoName {
			return fmt.Errorf("config: %q is a reserved repository name", reservedRepoName)
		}
		if seen[r.Name] {
			return fmt.Errorf("config: repository name %q used more than once", r.Name)
		}
		seen[r.Name] = true

		if r.Kind != KindAPT && r.Kind != KindRPM {
			return fmt.Errorf("config: repository %q has unknown kind %q", r.Name, r.Kind)
		}

		hasLocal := r.Local != nil
		hasS3 := r.S3 != nil
		if hasLocal == hasS3 {
			return fmt.Errorf("config: repository %q must configure exactly one of local or s3", r.Name)
		}

		if len(r.PublicKeys) > 0 {
			if _, err := sig.ParseKeyRing(r.PublicKeys); err != nil {
				return fmt.Errorf("config: repository %q has invalid public key: %w", r.Name, err)
			}
		}
	}
	return nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"reposync.yaml",
		"/etc/reposync/reposync.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "reposync", "reposync.yaml"))
	}
	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}
