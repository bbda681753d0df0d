package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix         = "gochat"
	DefaultSendBuffer = 256
	// MemoryDSN selects the in-process store instead of Postgres.
	MemoryDSN = "memory"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	SendBuffer     int
}

// Env holds the GOCHAT_* overrides. Empty fields leave the flag values
// alone.
type Env struct {
	Addr           string   `envconfig:"ADDR"`
	DSN            string   `envconfig:"DSN"`
	SigningKey     string   `envconfig:"SIGNING_KEY"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	SendBuffer     int      `envconfig:"SEND_BUFFER"`
}

// LoadEnv reads the given .env files, if present, and then the GOCHAT_*
// environment.
func LoadEnv(files ...string) (Env, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Env{}, fmt.Errorf("load env file: %w", err)
	}

	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("process env: %w", err)
	}
	return env, nil
}

// Override replaces the given settings with any value set in e.
func (e Env) Override(addr, dsn, key *string, origins *[]string, sendBuffer *int) {
	if e.Addr != "" {
		*addr = e.Addr
	}
	if e.DSN != "" {
		*dsn = e.DSN
	}
	if e.SigningKey != "" {
		*key = e.SigningKey
	}
	if len(e.AllowedOrigins) > 0 {
		*origins = e.AllowedOrigins
	}
	if e.SendBuffer > 0 {
		*sendBuffer = e.SendBuffer
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, sendBuffer int) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if sendBuffer < 0 {
		return nil, fmt.Errorf("send buffer cannot be negative")
	}
	if sendBuffer == 0 {
		sendBuffer = DefaultSendBuffer
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		SendBuffer:     sendBuffer,
	}, nil
}

// InMemory reports whether the config selects the in-process store.
func (c *Config) InMemory() bool {
	return c.DatabaseDSN == MemoryDSN
}
