package config

// Config is the full narrator configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Library  LibraryConfig  `mapstructure:"library" yaml:"library"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	TTS      TTSConfig      `mapstructure:"tts" yaml:"tts"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Extract  ExtractConfig  `mapstructure:"extract" yaml:"extract"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// LibraryConfig holds ebook library settings.
type LibraryConfig struct {
	// Path is the library root. If it contains a Calibre metadata.db the
	// Calibre reader is used, otherwise the folder scanner.
	Path string `mapstructure:"path" yaml:"path"`
}

// OutputConfig holds audiobook output settings.
type OutputConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds job database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TTSConfig holds settings for the remote TTS endpoint.
type TTSConfig struct {
	// URL is the base URL of the Kokoro-compatible TTS server.
	URL string `mapstructure:"url" yaml:"url"`
	// DefaultVoice is used when a job does not specify one.
	DefaultVoice string `mapstructure:"default_voice" yaml:"default_voice"`

	// TokenLimit is the per-request chunk budget (estimated tokens).
	TokenLimit int `mapstructure:"token_limit" yaml:"token_limit"`
	// TokenFloor is the minimum chunk size before a flush is allowed.
	TokenFloor int `mapstructure:"token_floor" yaml:"token_floor"`
	// CharsPerToken converts character counts to estimated tokens.
	CharsPerToken float64 `mapstructure:"chars_per_token" yaml:"chars_per_token"`

	// MaxRetries bounds synthesis attempts per chunk.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// StartupTimeoutSec bounds the readiness poll.
	StartupTimeoutSec int `mapstructure:"startup_timeout_sec" yaml:"startup_timeout_sec"`
	// CooldownSec is the pause between successful chunks.
	CooldownSec float64 `mapstructure:"cooldown_sec" yaml:"cooldown_sec"`
	// RestInterval is how many chunks to synthesize before a VRAM-recovery rest.
	RestInterval int `mapstructure:"rest_interval" yaml:"rest_interval"`
	// RestDurationSec is the length of the VRAM-recovery rest.
	RestDurationSec int `mapstructure:"rest_duration_sec" yaml:"rest_duration_sec"`

	// CrossfadeMS is the overlap between adjacent audio segments.
	CrossfadeMS int `mapstructure:"crossfade_ms" yaml:"crossfade_ms"`
}

// AudioConfig holds M4B encoding settings.
type AudioConfig struct {
	AACBitrate string `mapstructure:"aac_bitrate" yaml:"aac_bitrate"`
}

// ExtractConfig holds chapter extraction thresholds.
type ExtractConfig struct {
	MinChapterWords      int `mapstructure:"min_chapter_words" yaml:"min_chapter_words"`
	FallbackChapterWords int `mapstructure:"fallback_chapter_words" yaml:"fallback_chapter_words"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8787",
		},
		Library: LibraryConfig{
			Path: "/calibre-library",
		},
		Output: OutputConfig{
			Path: "/audiobooks",
		},
		Database: DatabaseConfig{
			Path: "/app/data/narrator.db",
		},
		TTS: TTSConfig{
			URL:               "http://kokoro-tts:8880",
			DefaultVoice:      "af_heart",
			TokenLimit:        250,
			TokenFloor:        80,
			CharsPerToken:     3.5,
			MaxRetries:        5,
			StartupTimeoutSec: 300,
			CooldownSec:       1.0,
			RestInterval:      10,
			RestDurationSec:   5,
			CrossfadeMS:       50,
		},
		Audio: AudioConfig{
			AACBitrate: "128k",
		},
		Extract: ExtractConfig{
			MinChapterWords:      50,
			FallbackChapterWords: 5000,
		},
		LogLevel: "info",
	}
}
