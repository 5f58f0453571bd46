package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read from the working directory when it exists.
const DefaultEnvFile = ".env"

// LoadEnvFile copies the variables of a dotenv file into envRepo. Variables
// already set in envRepo win. A missing file is only an error if required.
func LoadEnvFile(envRepo env.Repository, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return &ConfigError{Key: path, Reason: err.Error()}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return &ConfigError{Key: path, Reason: err.Error()}
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if envRepo.Get(name) != "" {
			continue
		}
		if err := envRepo.Set(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}
