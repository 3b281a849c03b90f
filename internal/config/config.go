package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env   string      `yaml:"env" env:"ENV" env-default:"local"`
	Mongo MongoConfig `yaml:"mongo"`
	Minio MinioConfig `yaml:"minio"`
	Auth  AuthConfig  `yaml:"auth"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-required:"true"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"vidtube"`
}

type MinioConfig struct {
	Endpoint      string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey     string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket        string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"vidtube-assets"`
	UseSSL        bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
	PublicBaseURL string `yaml:"public_base_url" env:"MINIO_PUBLIC_BASE_URL"`
}

type AuthConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env-default:"240h"`
	AccessSecret  string        `env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	RefreshSecret string        `env:"REFRESH_TOKEN_SECRET" env-required:"true"`
}

func LoadConfig(path string) *Config {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file not found: " + path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
