package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/ecoaudit/voicenote/internal/config"
)

type envConfig struct {
	Env                string   `env:"ENV" envDefault:"production"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	StorePath          string   `env:"STORE_PATH" envDefault:"data/voicenote.db"`
	ChunkIntervalMs    int      `env:"CHUNK_INTERVAL_MS" envDefault:"3000"`
	CaptureSampleRate  int      `env:"CAPTURE_SAMPLE_RATE" envDefault:"48000"`
	CaptureChannels    int      `env:"CAPTURE_CHANNELS" envDefault:"1"`
	CaptureSourcePath  string   `env:"CAPTURE_SOURCE_PATH" envDefault:"/dev/stdin"`
	PreferredEncodings []string `env:"PREFERRED_ENCODINGS" envDefault:"audio/opus;framed,audio/pcm;s16le" envSeparator:","`
	UploadURL          string   `env:"UPLOAD_URL,required"`
	UploadToken        string   `env:"UPLOAD_TOKEN"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                raw.Env,
		DatabaseURL:        raw.DatabaseURL,
		StorePath:          raw.StorePath,
		ChunkIntervalMs:    raw.ChunkIntervalMs,
		CaptureSampleRate:  raw.CaptureSampleRate,
		CaptureChannels:    raw.CaptureChannels,
		CaptureSourcePath:  raw.CaptureSourcePath,
		PreferredEncodings: raw.PreferredEncodings,
		UploadURL:          raw.UploadURL,
		UploadToken:        raw.UploadToken,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
