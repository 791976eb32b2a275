package core

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	Telegram struct {
		Enabled  bool   `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"false"`
		ApiKey   string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		Username string `yaml:"username" env:"TELEGRAM_USERNAME" env-default:""`
	} `yaml:"telegram"`
	Http struct {
		Enabled bool   `yaml:"enabled" env:"HTTP_ENABLED" env-default:"false"`
		Listen  string `yaml:"listen" env:"HTTP_LISTEN" env-default:"127.0.0.1:8080"`
	} `yaml:"http"`
	OpenAI struct {
		ApiKey      string `yaml:"api_key" env:"OPENAI_API_KEY" env-default:""`
		BaseUrl     string `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
		Model       string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
		VisionModel string `yaml:"vision_model" env:"OPENAI_VISION_MODEL" env-default:"gpt-4o"`
	} `yaml:"openai"`
	OpenRouter struct {
		ApiKey  string `yaml:"api_key" env:"OPENROUTER_API_KEY" env-default:""`
		BaseUrl string `yaml:"base_url" env:"OPENROUTER_BASE_URL" env-default:"https://openrouter.ai/api/v1"`
		Model   string `yaml:"model" env:"OPENROUTER_MODEL" env-default:"qwen/qwen-2.5-72b-instruct"`
		Referer string `yaml:"referer" env:"OPENROUTER_REFERER" env-default:""`
		Title   string `yaml:"title" env:"OPENROUTER_TITLE" env-default:"Retoucher"`
	} `yaml:"openrouter"`
	Replicate struct {
		ApiToken     string        `yaml:"api_token" env:"REPLICATE_API_TOKEN" env-default:""`
		BaseUrl      string        `yaml:"base_url" env:"REPLICATE_BASE_URL" env-default:"https://api.replicate.com/v1"`
		Version      string        `yaml:"version" env:"REPLICATE_VERSION" env-default:""`
		Steps        int           `yaml:"steps" env-default:"20"`
		Guidance     float64       `yaml:"guidance" env-default:"7.5"`
		PollInterval time.Duration `yaml:"poll_interval" env-default:"2s"`
		Timeout      time.Duration `yaml:"timeout" env-default:"3m"`
	} `yaml:"replicate"`
	S3 struct {
		Bucket        string `yaml:"bucket" env:"S3_BUCKET" env-default:""`
		Region        string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
		Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:""`
		AccessKey     string `yaml:"access_key" env:"S3_ACCESS_KEY" env-default:""`
		SecretKey     string `yaml:"secret_key" env:"S3_SECRET_KEY" env-default:""`
		Prefix        string `yaml:"prefix" env:"S3_PREFIX" env-default:"uploads"`
		PublicBaseUrl string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL" env-default:""`
	} `yaml:"s3"`
	Sessions struct {
		Driver string `yaml:"driver" env:"SESSIONS_DRIVER" env-default:"memory"`
	} `yaml:"sessions"`
	Credits struct {
		Driver     string `yaml:"driver" env:"CREDITS_DRIVER" env-default:"memory"`
		Initial    int    `yaml:"initial" env:"CREDITS_INITIAL" env-default:"3"`
		SQLitePath string `yaml:"sqlite_path" env:"CREDITS_SQLITE_PATH" env-default:"credits.db"`
	} `yaml:"credits"`
	Mongo struct {
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:"admin"`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:"pass"`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"retoucher"`
	} `yaml:"mongo"`
	Edit struct {
		RetryDelay time.Duration `yaml:"retry_delay" env:"EDIT_RETRY_DELAY" env-default:"2s"`
	} `yaml:"edit"`
}

var instance *Config
var once sync.Once

func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance, err = readConfig(path)
	})
	return instance, err
}

func readConfig(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// MustLoad terminates the process when the configuration cannot be read.
func MustLoad(path string) *Config {
	conf, err := GetConfig(path)
	if err != nil {
		log.Fatalf("loading config %s: %v", path, err)
	}
	return conf
}

// MongoURI composes the connection string from the mongo section.
func (c *Config) MongoURI() string {
	return fmt.Sprintf("mongodb://%s:%s@%s:%s", c.Mongo.User, c.Mongo.Password, c.Mongo.Host, c.Mongo.Port)
}

func (c *Config) validate() error {
	switch c.Sessions.Driver {
	case DriverMemory, DriverMongo:
	default:
		return fmt.Errorf("config: unknown sessions driver %q", c.Sessions.Driver)
	}
	switch c.Credits.Driver {
	case DriverMemory, DriverMongo, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown credits driver %q", c.Credits.Driver)
	}
	if c.Credits.Initial < 0 {
		return fmt.Errorf("config: initial credits must not be negative")
	}
	if c.Edit.RetryDelay < 0 {
		return fmt.Errorf("config: retry delay must not be negative")
	}
	return nil
}
