// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fawa-io/filedrop/pkg/fwlog"
)

// EnvPrefix prefixes every environment override, e.g. FAWA_UPLOAD_IDLENGTH.
const EnvPrefix = "FAWA"

var (
	once sync.Once

	mu sync.RWMutex

	config Config

	subscribers []func(Config)
)

// Initconfig loads the configuration once per process and starts watching
// the config file.
func Initconfig() error {
	var initErr error
	once.Do(func() {
		initErr = LoadAndWatch()
	})
	return initErr
}

// Get returns a snapshot of the current configuration.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return config
}

// OnChange registers fn to run after every successful reload.
func OnChange(fn func(Config)) {
	mu.Lock()
	subscribers = append(subscribers, fn)
	mu.Unlock()
}

// LoadAndWatch parses the command line, reads .env, config.yaml and FAWA_*
// variables, and reloads on config file changes. A reload that fails to
// decode or validate keeps the previous configuration.
func LoadAndWatch() error {
	v := viper.New()
	cfg, err := load(v, pflag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	mu.Lock()
	config = cfg
	mu.Unlock()

	if v.ConfigFileUsed() == "" {
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		fwlog.Infof("Config file changed: %s, reloading...", e.Name)

		next, err := decode(v)
		if err != nil {
			fwlog.Errorf("Error reloading the configuration, keeping the previous one: %v", err)
			return
		}

		mu.Lock()
		config = next
		subs := append([]func(Config){}, subscribers...)
		mu.Unlock()

		for _, fn := range subs {
			fn(next)
		}
		fwlog.Infof("The configuration has been successfully reloaded.")
	})
	v.WatchConfig()

	return nil
}

func load(v *viper.Viper, fs *pflag.FlagSet, args []string) (Config, error) {
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind pflags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fawa/")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fwlog.Infof("Config file not found, using flags, environment and defaults.")
		} else {
			return Config{}, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("the configuration cannot be decoded into the struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func registerFlags(fs *pflag.FlagSet) {
	if fs.Lookup("addr") != nil {
		return
	}
	fs.String("config", "", "Path to a config file; defaults to config.yaml in . or /etc/fawa/")
	fs.String("addr", "", "Public HTTP listen address (e.g., ':8080')")
	fs.String("adminAddr", "", "Admin listen address for metrics and RPC (e.g., '127.0.0.1:9091')")
	fs.String("baseURL", "", "Public origin used in returned file URLs; derived from the request when empty")
	fs.String("certFile", "", "Path to the TLS certificate file.")
	fs.String("keyFile", "", "Path to the TLS private key file.")
	fs.String("logLevel", "", "Log level: debug, info, warn, error")
	fs.String("storage.backend", "", "Payload backend: filesystem, minio or postgres")
	fs.String("storage.dir", "", "Root directory of the filesystem backend")
	fs.String("catalog.backend", "", "Record catalog: memory, dragonfly or postgres")
	fs.Bool("catalog.ephemeral", false, "Accept the memory catalog, whose records do not survive a restart")
}
