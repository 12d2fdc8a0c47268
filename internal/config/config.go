package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interviewer client
type Config struct {
	// Remote evaluation service
	EvaluatorURL     string `envconfig:"EVALUATOR_URL" default:"http://127.0.0.1:8000" validate:"required,url"`
	EvaluatorTimeout int    `envconfig:"EVALUATOR_TIMEOUT" default:"120" validate:"min=1"` // seconds; transcription + scoring is slow

	// Answer timing
	AnswerTimeLimit int `envconfig:"ANSWER_TIME_LIMIT" default:"300" validate:"min=1"`  // seconds per question
	CountdownTickMs int `envconfig:"COUNTDOWN_TICK_MS" default:"1000" validate:"min=1"` // display tick interval

	// Microphone. MIC_INPUT_FILE replaces the recorder command with a PCM/WAV file.
	MicCommand   string   `envconfig:"MIC_COMMAND" default:"arecord"`
	MicArgs      []string `envconfig:"MIC_ARGS" default:"-q,-f,S16_LE,-r,16000,-c,1,-t,raw"`
	MicInputFile string   `envconfig:"MIC_INPUT_FILE" default:""`

	// Speaker. An empty SPEAKER_COMMAND prints questions without playing audio.
	SpeakerCommand string   `envconfig:"SPEAKER_COMMAND" default:"ffplay"`
	SpeakerArgs    []string `envconfig:"SPEAKER_ARGS" default:"-nodisp,-autoexit,-loglevel,quiet,-"`

	// Captured audio format (must match MIC_ARGS)
	AudioSampleRate       int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000" validate:"min=8000"`
	AudioChannels         int     `envconfig:"AUDIO_CHANNELS" default:"1" validate:"min=1,max=2"`
	SpeechEnergyThreshold float64 `envconfig:"SPEECH_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for speech

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Session start only
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Local interview journal (SQLite). Empty disables it.
	JournalPath string `envconfig:"JOURNAL_PATH" default:"interviews.db"`

	// Monitor server (health, metrics, live session feed)
	MonitorEnabled bool   `envconfig:"MONITOR_ENABLED" default:"false"`
	MonitorHost    string `envconfig:"MONITOR_HOST" default:"127.0.0.1"`
	MonitorPort    string `envconfig:"MONITOR_PORT" default:"8090"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error fatal panic"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	LogFile        string `envconfig:"LOG_FILE" default:""` // rotated log file; stderr when empty
	LogMaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// AnswerDuration is the per-question answer limit.
func (c *Config) AnswerDuration() time.Duration {
	return time.Duration(c.AnswerTimeLimit) * time.Second
}

// TickInterval is the countdown display interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.CountdownTickMs) * time.Millisecond
}

// RequestTimeout bounds a single call to the evaluation service.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.EvaluatorTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
