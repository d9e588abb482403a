package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypedAccessorsDefaults(t *testing.T) {
	s := &Store{doc: map[string]string{}}

	require.Equal(t, "fallback", s.String("CONFIG_TEST_UNSET", "fallback"))
	require.Equal(t, 42, s.Int("CONFIG_TEST_UNSET", 42))
	require.Equal(t, 0.7, s.Float("CONFIG_TEST_UNSET", 0.7))
	require.True(t, s.Bool("CONFIG_TEST_UNSET", true))
	require.Equal(t, time.Hour, s.Duration("CONFIG_TEST_UNSET", time.Hour))
}

func TestEnvOverridesDocument(t *testing.T) {
	s := &Store{doc: map[string]string{"CONFIG_TEST_KEY": "doc-value"}}
	require.Equal(t, "doc-value", s.String("CONFIG_TEST_KEY", ""))

	t.Setenv("CONFIG_TEST_KEY", "env-value")
	require.Equal(t, "env-value", s.String("CONFIG_TEST_KEY", ""))
}

func TestLoadYAMLDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte("WEB_SERVER_API_PORT: 8443\nPATTERN_MIN_CONFIDENCE: 0.8\n"), 0o600)
	require.NoError(t, err)
	t.Setenv("VERIDIAN_CONFIG", path)

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8443", s.String("WEB_SERVER_API_PORT", "3000"))
	require.Equal(t, 0.8, s.Float("PATTERN_MIN_CONFIDENCE", 0.7))
}

func TestResolveRequiresJWTSecret(t *testing.T) {
	s := &Store{doc: map[string]string{}}
	_, err := s.Resolve()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "test-secret")
	cfg, err := s.Resolve()
	require.NoError(t, err)
	require.Equal(t, "3000", cfg.APIPort)
	require.Equal(t, 5, cfg.PatternMinOccurrences)
	require.Equal(t, 0.7, cfg.PatternMinConfidence)
	require.Equal(t, 10000, cfg.FeedbackMaxPerEntity)
	require.Equal(t, 168, cfg.FeedbackRetentionHours)
	require.Equal(t, 30, cfg.ScrapeTimeoutSeconds)
}

func TestBoolParsing(t *testing.T) {
	s := &Store{doc: map[string]string{"A": "1", "B": "no", "C": "garbage"}}
	require.True(t, s.Bool("A", false))
	require.False(t, s.Bool("B", true))
	require.True(t, s.Bool("C", true))
}
