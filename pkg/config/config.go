// Package config provides read-only typed configuration assembled once at
// startup from the process environment and an optional YAML document.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store is an immutable key/value configuration source. Environment variables
// take precedence over the document; defaults apply last.
type Store struct {
	doc map[string]string
}

// Load builds a Store from the environment and, when VERIDIAN_CONFIG points at
// a YAML file, from that document. The Store never mutates after Load returns.
func Load() (*Store, error) {
	s := &Store{doc: map[string]string{}}

	path := os.Getenv("VERIDIAN_CONFIG")
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config document: %w", err)
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config document: %w", err)
	}
	for k, v := range raw {
		s.doc[k] = fmt.Sprintf("%v", v)
	}
	return s, nil
}

// String returns the value for key, or def when unset.
func (s *Store) String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := s.doc[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when unset or unparseable.
func (s *Store) Int(key string, def int) int {
	v := s.String(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Float returns the float value for key, or def when unset or unparseable.
func (s *Store) Float(key string, def float64) float64 {
	v := s.String(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Bool returns the boolean value for key, or def when unset.
// Accepted true values: "true", "1", "yes".
func (s *Store) Bool(key string, def bool) bool {
	v := s.String(key, "")
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

// Duration returns the duration for key, or def. Plain integers are hours.
func (s *Store) Duration(key string, def time.Duration) time.Duration {
	v := s.String(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Hour
	}
	return def
}

// Settings is the fully resolved process configuration.
type Settings struct {
	DisplayHost string
	APIPort     string
	LogLevel    string
	JWTSecret   string

	DBDriver         string
	DBHost           string
	DBPort           string
	DBName           string
	DBUser           string
	DBPassword       string
	DBSSLMode        string
	DBMaxConnections int

	RedisAddr string

	PatternMinOccurrences    int
	PatternMinConfidence     float64
	PatternRetentionHours    int
	PatternRealTimeAnalysis  bool
	PatternBatchInterval     int
	FeedbackMaxPerEntity     int
	FeedbackRetentionHours   int
	FeedbackMinForLearning   int
	FeedbackConfidenceThresh float64
	FeedbackRealTimeLearning bool
	FeedbackBatchInterval    int

	ScrapeTimeoutSeconds int
	FailureThreshold     int
}

// Resolve reads all recognized keys with their documented defaults.
// JWT_SECRET has no default; Resolve fails without it.
func (s *Store) Resolve() (*Settings, error) {
	secret := s.String("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Settings{
		DisplayHost: s.String("WEB_SERVER_DISPLAY_HOST", "localhost"),
		APIPort:     s.String("WEB_SERVER_API_PORT", "3000"),
		LogLevel:    s.String("LOG_LEVEL", "INFO"),
		JWTSecret:   secret,

		DBDriver:         s.String("DB_DRIVER", "postgres"),
		DBHost:           s.String("DB_HOST", "localhost"),
		DBPort:           s.String("DB_PORT", "5432"),
		DBName:           s.String("DB_NAME", "veridian"),
		DBUser:           s.String("DB_USER", "veridian"),
		DBPassword:       s.String("DB_PASSWORD", ""),
		DBSSLMode:        s.String("DB_SSLMODE", "disable"),
		DBMaxConnections: s.Int("DB_MAX_CONNECTIONS", 10),

		RedisAddr: s.String("REDIS_ADDR", ""),

		PatternMinOccurrences:    s.Int("PATTERN_MIN_OCCURRENCES", 5),
		PatternMinConfidence:     s.Float("PATTERN_MIN_CONFIDENCE", 0.7),
		PatternRetentionHours:    s.Int("PATTERN_RETENTION_HOURS", 168),
		PatternRealTimeAnalysis:  s.Bool("PATTERN_REAL_TIME_ANALYSIS", true),
		PatternBatchInterval:     s.Int("PATTERN_BATCH_INTERVAL", 100),
		FeedbackMaxPerEntity:     s.Int("FEEDBACK_MAX_PER_ENTITY", 10000),
		FeedbackRetentionHours:   s.Int("FEEDBACK_RETENTION_HOURS", 168),
		FeedbackMinForLearning:   s.Int("FEEDBACK_MIN_FOR_LEARNING", 10),
		FeedbackConfidenceThresh: s.Float("FEEDBACK_CONFIDENCE_THRESHOLD", 0.7),
		FeedbackRealTimeLearning: s.Bool("FEEDBACK_REAL_TIME_LEARNING", true),
		FeedbackBatchInterval:    s.Int("FEEDBACK_BATCH_INTERVAL", 50),

		ScrapeTimeoutSeconds: s.Int("SCRAPE_TIMEOUT_SECONDS", 30),
		FailureThreshold:     s.Int("FAILURE_THRESHOLD", 5),
	}, nil
}

// DSN renders the database connection string for the configured driver.
func (c *Settings) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.DBName
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode)
}
