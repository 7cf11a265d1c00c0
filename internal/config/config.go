// Package config loads the env vars SPEC_FULL.md §6.1 defines into a
// Config struct. Per spec.md §1, environment/config parsing is an
// external collaborator referenced only by interface; this package is
// the concrete implementation the server entrypoint uses.
//
// Grounded on the teacher's internal/config/config.go (getEnv/getEnvInt
// idiom, struct-of-settings shape) and, for human-readable byte sizes,
// on the inverse of the teacher's internal/cache/disk_cache.go's
// formatBytes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type VerifyScheme string

const (
	VerifySchemeHMACSHA256 VerifyScheme = "hmac-sha256"
	VerifySchemeEd25519    VerifyScheme = "ed25519"
)

type Config struct {
	Port string

	MemCacheSizeBytes  int64 // 0 disables MemCache
	DiskCacheSizeBytes int64 // 0 disables DiskCache
	DiskCachePath      string

	VerifyKeysHex []string
	VerifyScheme  VerifyScheme

	RequestConcurrency  int // 0 resolved by the caller to cores*10
	VIPSConcurrency     int // 0 resolved by the caller to numCPU
	FetchTimeoutSeconds int

	LogLevel string

	OriginS3Region    string
	OriginS3AccessKey string
	OriginS3SecretKey string
	OriginS3BaseURL   string
}

func Load() (*Config, error) {
	memSize, err := getEnvBytes("MEM_CACHE_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("config: MEM_CACHE_SIZE: %w", err)
	}
	diskSize, err := getEnvBytes("DISK_CACHE_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("config: DISK_CACHE_SIZE: %w", err)
	}

	return &Config{
		Port: getEnv("PORT", "8000"),

		MemCacheSizeBytes:  memSize,
		DiskCacheSizeBytes: diskSize,
		DiskCachePath:      getEnv("DISK_CACHE_PATH", "./cache"),

		VerifyKeysHex: splitNonEmpty(getEnv("VERIFY_KEYS", "")),
		VerifyScheme:  VerifyScheme(getEnv("VERIFY_SCHEME", string(VerifySchemeHMACSHA256))),

		RequestConcurrency:  getEnvInt("REQUEST_CONCURRENCY", 0),
		VIPSConcurrency:     getEnvInt("VIPS_CONCURRENCY", 0),
		FetchTimeoutSeconds: getEnvInt("FETCH_TIMEOUT_SECONDS", 60),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		OriginS3Region:    getEnv("ORIGIN_S3_REGION", "us-east-1"),
		OriginS3AccessKey: getEnv("ORIGIN_S3_ACCESS_KEY", ""),
		OriginS3SecretKey: getEnv("ORIGIN_S3_SECRET_KEY", ""),
		OriginS3BaseURL:   getEnv("ORIGIN_S3_BASE_URL", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func getEnvBytes(key string, defaultValue int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	return ParseBytes(raw)
}

var byteUnits = []struct {
	suffix string
	factor float64
}{
	{"gib", 1 << 30},
	{"mib", 1 << 20},
	{"kib", 1 << 10},
	{"gb", 1 << 30},
	{"mb", 1 << 20},
	{"kb", 1 << 10},
	{"g", 1 << 30},
	{"m", 1 << 20},
	{"k", 1 << 10},
	{"b", 1},
}

// ParseBytes parses a human-readable byte size string ("512MB", "10GB",
// "2048", "1.5GiB"); units are case-insensitive and bare numbers are
// bytes. The inverse of the teacher's disk_cache.go formatBytes,
// extended to also accept the *iB binary-unit spellings.
func ParseBytes(raw string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, u := range byteUnits {
		if strings.HasSuffix(lower, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(lower, u.suffix))
			if numPart == "" {
				continue
			}
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid byte size %q", raw)
			}
			return int64(n * u.factor), nil
		}
	}
	n, err := strconv.ParseFloat(lower, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", raw)
	}
	return int64(n), nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
