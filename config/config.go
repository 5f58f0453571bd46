// Package config builds the upload configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/figshare-uploader/urltemplate"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bmatcuk/doublestar/v4"
)

// Environment variables read by New.
const (
	BaseURLKey        = "FIGSHARE_BASE_URL"
	TokenKey          = "FIGSHARE_TOKEN"
	FilePathKey       = "FIGSHARE_FILE_PATH"
	TitleKey          = "FIGSHARE_TITLE"
	ConcurrencyKey    = "FIGSHARE_CONCURRENCY"
	RetryMaxKey       = "FIGSHARE_RETRY_MAX"
	RequestTimeoutKey = "FIGSHARE_REQUEST_TIMEOUT"
	VerboseKey        = "FIGSHARE_VERBOSE"
)

// DefaultBaseURL is the public figshare API.
const DefaultBaseURL = "https://api.figshare.com/v2/{endpoint}"

// Secret is a string that is not printed in logs.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 5)
}

// Config is built once at start and handed to the uploader.
type Config struct {
	// BaseURL is the API URL template, it must contain an {endpoint} placeholder.
	BaseURL string
	Token   Secret
	// FilePath is the resolved path of the file to upload.
	FilePath string
	// Title of the article the file is uploaded to.
	Title string
	// Concurrency is the number of parts uploaded at the same time; 1 uploads sequentially.
	Concurrency int
	// RetryMax is the number of retries per HTTP request; 0 disables retries.
	RetryMax int
	// RequestTimeout bounds every HTTP request; 0 means no deadline.
	RequestTimeout time.Duration
	Verbose        bool
}

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Key, e.Reason)
}

// New reads the configuration from envRepo, applies defaults, resolves the
// file path and validates the result.
func New(envRepo env.Repository) (Config, error) {
	cfg := Config{
		BaseURL:  strings.TrimSpace(envRepo.Get(BaseURLKey)),
		Token:    Secret(strings.TrimSpace(envRepo.Get(TokenKey))),
		FilePath: strings.TrimSpace(envRepo.Get(FilePathKey)),
		Title:    envRepo.Get(TitleKey),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	var err error
	if cfg.Concurrency, err = intValue(envRepo, ConcurrencyKey, 1); err != nil {
		return Config{}, err
	}
	if cfg.RetryMax, err = intValue(envRepo, RetryMaxKey, 0); err != nil {
		return Config{}, err
	}
	if raw := strings.TrimSpace(envRepo.Get(RequestTimeoutKey)); raw != "" {
		if cfg.RequestTimeout, err = time.ParseDuration(raw); err != nil {
			return Config{}, &ConfigError{Key: RequestTimeoutKey, Reason: fmt.Sprintf("%q is not a duration", raw)}
		}
	}
	if raw := strings.TrimSpace(envRepo.Get(VerboseKey)); raw != "" {
		if cfg.Verbose, err = boolValue(raw); err != nil {
			return Config{}, &ConfigError{Key: VerboseKey, Reason: err.Error()}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	path, err := resolveFilePath(cfg.FilePath)
	if err != nil {
		return Config{}, err
	}
	cfg.FilePath = path

	return cfg, nil
}

// Validate checks the settings that don't need the file system.
func (c Config) Validate() error {
	if c.Token == "" {
		return &ConfigError{Key: TokenKey, Reason: "the token is not defined"}
	}
	if strings.TrimSpace(c.Title) == "" {
		return &ConfigError{Key: TitleKey, Reason: "the article title is not defined"}
	}
	if c.FilePath == "" {
		return &ConfigError{Key: FilePathKey, Reason: "the file path is not defined"}
	}
	if !strings.Contains(c.BaseURL, "{endpoint}") {
		return &ConfigError{Key: BaseURLKey, Reason: fmt.Sprintf("%q has no {endpoint} placeholder", c.BaseURL)}
	}
	if _, err := urltemplate.Build(c.BaseURL, map[string]string{"endpoint": "account/articles"}); err != nil {
		return &ConfigError{Key: BaseURLKey, Reason: err.Error()}
	}
	if c.Concurrency < 1 {
		return &ConfigError{Key: ConcurrencyKey, Reason: "should be at least 1"}
	}
	if c.RetryMax < 0 {
		return &ConfigError{Key: RetryMaxKey, Reason: "should not be negative"}
	}
	if c.RequestTimeout < 0 {
		return &ConfigError{Key: RequestTimeoutKey, Reason: "should not be negative"}
	}
	return nil
}

// resolveFilePath expands a glob pattern, which must match exactly one file,
// and checks that the path is a regular file.
func resolveFilePath(path string) (string, error) {
	if strings.ContainsAny(path, "*?[{") {
		base, pattern := doublestar.SplitPattern(filepath.ToSlash(path))
		matches, err := doublestar.Glob(os.DirFS(base), pattern)
		if err != nil {
			return "", &ConfigError{Key: FilePathKey, Reason: fmt.Sprintf("invalid pattern %q: %s", path, err)}
		}

		var files []string
		for _, match := range matches {
			candidate := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(match))
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				files = append(files, candidate)
			}
		}
		if len(files) != 1 {
			return "", &ConfigError{Key: FilePathKey, Reason: fmt.Sprintf("pattern %q should match exactly one file, matched %d", path, len(files))}
		}
		path = files[0]
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &ConfigError{Key: FilePathKey, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return "", &ConfigError{Key: FilePathKey, Reason: fmt.Sprintf("%s is not a regular file", path)}
	}
	return path, nil
}

func intValue(envRepo env.Repository, key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(envRepo.Get(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return v, nil
}

func boolValue(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", raw)
}
