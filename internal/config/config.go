package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	YtDlpPath       string // path to the yt-dlp binary
	FFmpegPath      string // path to the ffmpeg binary (mp3 export transcode)
	DownloadDir     string // final export targets land here
	HTTPAddr        string // listen address for the serve command
	PreviewWindowMS int    // preview truncation window, capped at 10000
	DefaultVolumeDB float64
	LogLevel        string
	LogPath         string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or
// defaults. godotenv.Load will not override variables already set.
func Load() *Config {
	_ = godotenv.Load()

	downloadDir := getEnv("METRODL_DOWNLOAD_DIR", "")
	if downloadDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			downloadDir = filepath.Join(home, "Downloads")
		} else {
			downloadDir = "downloads"
		}
	}

	previewMS := getEnvInt("METRODL_PREVIEW_WINDOW_MS", 10000)
	if previewMS > 10000 {
		previewMS = 10000
	}

	return &Config{
		YtDlpPath:       getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		DownloadDir:     downloadDir,
		HTTPAddr:        getEnv("METRODL_HTTP_ADDR", ":8080"),
		PreviewWindowMS: previewMS,
		DefaultVolumeDB: getEnvFloat("METRODL_VOLUME_DB", -6),
		LogLevel:        getEnv("METRODL_LOG_LEVEL", "info"),
		LogPath:         getEnv("METRODL_LOG_PATH", ""),
	}
}
