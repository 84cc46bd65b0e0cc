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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

type Config struct {
	Addr      string `mapstructure:"addr"`
	AdminAddr string `mapstructure:"adminAddr"`
	BaseURL   string `mapstructure:"baseURL"`
	CertFile  string `mapstructure:"certFile"`
	KeyFile   string `mapstructure:"keyFile"`
	LogLevel  string `mapstructure:"logLevel"`

	Upload    UploadConfig    `mapstructure:"upload"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Minio     MinioConfig     `mapstructure:"minio"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Dragonfly DragonflyConfig `mapstructure:"dragonfly"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type UploadConfig struct {
	// MaxFileSize is a human size such as "10MiB" or "500KB".
	MaxFileSize string `mapstructure:"maxFileSize"`
	// AllowedTypes entries look like "image/jpeg:.jpg,.jpeg". Empty disables type filtering.
	AllowedTypes []string `mapstructure:"allowedTypes"`
	SniffContent bool     `mapstructure:"sniffContent"`
	IDLength     int      `mapstructure:"idLength"`
	// StagingDir holds uploads while they are validated; os.TempDir() when empty.
	StagingDir string `mapstructure:"stagingDir"`
}

type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	PartSize  string `mapstructure:"partSize"`
	ChunkSize string `mapstructure:"chunkSize"`
}

type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyID"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	Bucket          string `mapstructure:"bucket"`
	UseSSL          bool   `mapstructure:"useSSL"`
}

type CatalogConfig struct {
	Backend string `mapstructure:"backend"`
	// CacheSize is the number of records kept in the LRU; 0 disables it.
	CacheSize int `mapstructure:"cacheSize"`
	// Ephemeral accepts the memory catalog. Its records are gone after a
	// restart while the payloads stay in storage.
	Ephemeral bool `mapstructure:"ephemeral"`
}

type DragonflyConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RetentionConfig struct {
	// Period is the age after which files are deleted; 0 keeps files forever.
	Period   time.Duration `mapstructure:"period"`
	Interval time.Duration `mapstructure:"interval"`
}

const (
	BackendFilesystem = "filesystem"
	BackendMinio      = "minio"
	BackendPostgres   = "postgres"

	CatalogMemory    = "memory"
	CatalogDragonfly = "dragonfly"
	CatalogPostgres  = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("adminAddr", "127.0.0.1:9091")
	v.SetDefault("baseURL", "")
	v.SetDefault("certFile", "")
	v.SetDefault("keyFile", "")
	v.SetDefault("logLevel", "info")

	v.SetDefault("upload.maxFileSize", "10MiB")
	v.SetDefault("upload.allowedTypes", []string{})
	v.SetDefault("upload.sniffContent", true)
	v.SetDefault("upload.idLength", 10)
	v.SetDefault("upload.stagingDir", "")

	v.SetDefault("storage.backend", BackendFilesystem)
	v.SetDefault("storage.dir", "./uploads")
	v.SetDefault("storage.partSize", "16MiB")
	v.SetDefault("storage.chunkSize", "256KiB")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.accessKeyID", "")
	v.SetDefault("minio.secretAccessKey", "")
	v.SetDefault("minio.bucket", "filedrop")
	v.SetDefault("minio.useSSL", false)

	v.SetDefault("catalog.backend", CatalogMemory)
	v.SetDefault("catalog.cacheSize", 1024)
	v.SetDefault("catalog.ephemeral", false)
	v.SetDefault("dragonfly.addr", "localhost:6379")
	v.SetDefault("database.url", "")

	v.SetDefault("retention.period", "0s")
	v.SetDefault("retention.interval", "24h")
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("certFile and keyFile must be set together")
	}

	if _, err := c.Upload.MaxFileSizeBytes(); err != nil {
		return err
	}
	if c.Upload.IDLength < 5 {
		return fmt.Errorf("upload.idLength must be at least 5, got %d", c.Upload.IDLength)
	}

	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the filesystem backend")
		}
	case BackendMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return errors.New("minio.endpoint and minio.bucket are required for the minio backend")
		}
		if _, err := c.Storage.PartSizeBytes(); err != nil {
			return err
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres backend")
		}
		if _, err := c.Storage.ChunkSizeBytes(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Catalog.Backend {
	case CatalogMemory:
		if !c.Catalog.Ephemeral {
			return fmt.Errorf("catalog.backend %q forgets every record on restart and orphans the stored payloads: "+
				"use dragonfly or postgres, or set catalog.ephemeral=true", CatalogMemory)
		}
	case CatalogDragonfly:
		if c.Dragonfly.Addr == "" {
			return errors.New("dragonfly.addr is required for the dragonfly catalog")
		}
	case CatalogPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres catalog")
		}
	default:
		return fmt.Errorf("unknown catalog.backend %q", c.Catalog.Backend)
	}
	if c.Catalog.CacheSize < 0 {
		return fmt.Errorf("catalog.cacheSize must not be negative, got %d", c.Catalog.CacheSize)
	}

	if c.Retention.Period < 0 {
		return fmt.Errorf("retention.period must not be negative, got %s", c.Retention.Period)
	}
	if c.Retention.Period > 0 && c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive, got %s", c.Retention.Interval)
	}
	return nil
}

// MaxFileSizeBytes parses upload.maxFileSize.
func (u UploadConfig) MaxFileSizeBytes() (int64, error) {
	return parseSize("upload.maxFileSize", u.MaxFileSize)
}

func (s StorageConfig) PartSizeBytes() (int64, error) {
	return parseSize("storage.partSize", s.PartSize)
}

func (s StorageConfig) ChunkSizeBytes() (int64, error) {
	return parseSize("storage.chunkSize", s.ChunkSize)
}

func parseSize(key, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("%s: %q is out of range", key, value)
	}
	return int64(n), nil
}
