package mtrpc

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv 以 DefaultConfig 为基础读取 MTRPC_* 环境变量并校验。
func LoadFromEnv() (Config, error) {
	def := DefaultConfig()
	cfg := Config{
		Network:        getEnv("MTRPC_NETWORK", def.Network),
		Address:        getEnv("MTRPC_ADDRESS", def.Address),
		MaxConcurrency: getEnvInt("MTRPC_MAX_CONCURRENCY", def.MaxConcurrency),
		ReusePort:      getEnvBool("MTRPC_REUSE_PORT", def.ReusePort),
		NoDelay:        getEnvBool("MTRPC_NO_DELAY", def.NoDelay),
		ReadTimeout:    getEnvDuration("MTRPC_READ_TIMEOUT", def.ReadTimeout),
		WriteTimeout:   getEnvDuration("MTRPC_WRITE_TIMEOUT", def.WriteTimeout),
		RecvBufSize:    getEnvInt("MTRPC_RECV_BUF", def.RecvBufSize),
		SendBufSize:    getEnvInt("MTRPC_SEND_BUF", def.SendBufSize),

		Transport:       TransportKind(strings.ToLower(getEnv("MTRPC_TRANSPORT", string(def.Transport)))),
		BufferSize:      getEnvInt("MTRPC_BUFFER_SIZE", def.BufferSize),
		Compression:     getEnvBool("MTRPC_COMPRESSION", def.Compression),
		CompressMinSize: getEnvInt("MTRPC_COMPRESS_MIN_SIZE", def.CompressMinSize),
		MaxFrameSize:    getEnvInt("MTRPC_MAX_FRAME_SIZE", def.MaxFrameSize),

		StrictRead:    getEnvBool("MTRPC_STRICT_READ", def.StrictRead),
		StrictWrite:   getEnvBool("MTRPC_STRICT_WRITE", def.StrictWrite),
		MaxStringSize: getEnvInt("MTRPC_MAX_STRING_SIZE", def.MaxStringSize),

		Debug: getEnvBool("DEBUG", def.Debug),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
