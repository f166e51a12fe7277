package config

import "fmt"

type Config struct {
	Env                string
	DatabaseURL        string
	StorePath          string
	ChunkIntervalMs    int
	CaptureSampleRate  int
	CaptureChannels    int
	CaptureSourcePath  string
	PreferredEncodings []string
	UploadURL          string
	UploadToken        string
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required when DATABASE_URL is not set")
	}
	if c.ChunkIntervalMs <= 0 {
		return fmt.Errorf("CHUNK_INTERVAL_MS must be positive, got %d", c.ChunkIntervalMs)
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", c.CaptureSampleRate)
	}
	if c.CaptureChannels != 1 && c.CaptureChannels != 2 {
		return fmt.Errorf("CAPTURE_CHANNELS must be 1 or 2, got %d", c.CaptureChannels)
	}
	if len(c.PreferredEncodings) == 0 {
		return fmt.Errorf("PREFERRED_ENCODINGS must list at least one encoding")
	}
	if c.UploadURL == "" {
		return fmt.Errorf("UPLOAD_URL is required")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
