package config

import (
	"testing"
)

func BenchmarkDefaultConfigSanitizer_Sanitize(b *testing.B) {
	sanitizer := NewDefaultConfigSanitizer()
	cfg := &Config{
		Database: DatabaseConfig{
			Password: "secret123",
			Host:     "localhost",
			Port:     5432,
		},
		Redis: RedisConfig{
			Password: "redispass",
			Addr:     "localhost:6379",
		},
		Tuning: TuningConfig{
			SuggestNum: 100,
		},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sanitizer.Sanitize(cfg)
	}
}
