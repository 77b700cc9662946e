package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadUsesFallbacks(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("POLL_MAX_ATTEMPTS", "")
	t.Setenv("ANALYSIS_BASE_URL", "")

	cfg := Load()
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("expected default poll interval 3s, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 10 {
		t.Fatalf("expected default poll attempts 10, got %d", cfg.PollMaxAttempts)
	}
	if cfg.AnalysisBaseURL != "http://localhost:8000" {
		t.Fatalf("unexpected analysis base url: %q", cfg.AnalysisBaseURL)
	}
}

func TestLoadParsesDurationsAndLists(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "1500")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://coach.example, ,https://admin.example")
	t.Setenv("POLL_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms poll interval, got %s", cfg.PollInterval)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
	if cfg.PollMaxAttempts != 10 {
		t.Fatalf("expected invalid int to fall back to 10, got %d", cfg.PollMaxAttempts)
	}

	t.Setenv("POLL_INTERVAL", "250ms")
	if got := Load().PollInterval; got != 250*time.Millisecond {
		t.Fatalf("expected 250ms poll interval, got %s", got)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "COACH_TEST_EXISTING=from-file\nCOACH_TEST_NEW=\"quoted value\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("COACH_TEST_EXISTING", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("COACH_TEST_NEW") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("expected dotenv load success, got err=%v", err)
	}
	if got := os.Getenv("COACH_TEST_EXISTING"); got != "from-process" {
		t.Fatalf("expected process env to win, got %q", got)
	}
	if got := os.Getenv("COACH_TEST_NEW"); got != "quoted value" {
		t.Fatalf("expected quoted value from file, got %q", got)
	}
}

func TestParseSessionProfileDefaults(t *testing.T) {
	profile, err := ParseSessionProfile([]byte("avatar:\n  name: june\n"))
	if err != nil {
		t.Fatalf("expected parse success, got err=%v", err)
	}
	if profile.Avatar.Name != "june" {
		t.Fatalf("expected avatar name june, got %q", profile.Avatar.Name)
	}
	cfg := profile.SessionConfig()
	if cfg.Quality != "low" || cfg.Language != "en" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.DisableIdleTimeout || !cfg.UseSilencePrompt {
		t.Fatalf("expected idle timeout disabled and silence prompt enabled by default")
	}
	if !strings.Contains(profile.Interviewer.SystemPrompt, "professional job interviewer") {
		t.Fatalf("expected default interviewer prompt")
	}
}

func TestParseSessionProfileExplicitFalse(t *testing.T) {
	profile, err := ParseSessionProfile([]byte("avatar:\n  use_silence_prompt: false\n"))
	if err != nil {
		t.Fatalf("expected parse success, got err=%v", err)
	}
	if profile.SessionConfig().UseSilencePrompt {
		t.Fatalf("expected explicit false to be kept")
	}
}

func TestParseSessionProfileRejectsInvalidQuality(t *testing.T) {
	_, err := ParseSessionProfile([]byte("avatar:\n  quality: ultra\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "avatar.quality") {
		t.Fatalf("expected avatar.quality in error, got %v", err)
	}
}

func TestLoadSessionProfileEmptyPath(t *testing.T) {
	profile, err := LoadSessionProfile("")
	if err != nil {
		t.Fatalf("expected defaults, got err=%v", err)
	}
	if profile.Interviewer.HistoryLimit != 20 {
		t.Fatalf("expected history limit 20, got %d", profile.Interviewer.HistoryLimit)
	}
}

func TestLoadEventSettings(t *testing.T) {
	t.Setenv("REDIS_GROUP", "")
	t.Setenv("REDIS_CONSUMER", "api-7")
	t.Setenv("EVENT_FLUSH_INTERVAL", "40ms")

	cfg := Load()
	if cfg.RedisGroup != "coach_recorders" || cfg.RedisDLQ != "coach_events_dlq" {
		t.Fatalf("unexpected redis defaults: group=%q dlq=%q", cfg.RedisGroup, cfg.RedisDLQ)
	}
	if cfg.RedisConsumer != "api-7" {
		t.Fatalf("expected consumer api-7, got %q", cfg.RedisConsumer)
	}
	if cfg.EventFlushInterval != 40*time.Millisecond || cfg.EventBatchSize != 32 {
		t.Fatalf("unexpected batching settings: %s %d", cfg.EventFlushInterval, cfg.EventBatchSize)
	}
}
