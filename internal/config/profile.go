package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/digitalcoach/coach-orchestrator/internal/domain"
)

const defaultInterviewerPrompt = `You are a professional job interviewer. Your role is to evaluate the candidate's responses by asking thoughtful, insightful, and probing follow-up questions.
Your responsibilities include:
  - Assessing the candidate's skills, experience, and fit for the role.
  - Asking clarifying questions to understand the candidate's perspective.
  - Encouraging the candidate to elaborate on their experiences with specific examples.
  - Being friendly, respectful, and maintaining a professional tone at all times.
  - Adjusting your questions based on the candidate's previous answers.
When a candidate responds, ask one relevant follow-up question that is concise yet open-ended.`

// SessionProfile describes the avatar and interviewer persona used by live sessions.
type SessionProfile struct {
	Avatar      AvatarProfile      `yaml:"avatar"`
	Interviewer InterviewerProfile `yaml:"interviewer"`
}

type AvatarProfile struct {
	Name               string `yaml:"name"`
	Quality            string `yaml:"quality"`
	Language           string `yaml:"language"`
	KnowledgeID        string `yaml:"knowledge_id"`
	DisableIdleTimeout *bool  `yaml:"disable_idle_timeout"`
	UseSilencePrompt   *bool  `yaml:"use_silence_prompt"`
}

type InterviewerProfile struct {
	SystemPrompt    string  `yaml:"system_prompt"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	HistoryLimit    int     `yaml:"history_limit"`
	FallbackReply   string  `yaml:"fallback_reply"`
}

// DefaultSessionProfile mirrors the persona the web client shipped with.
func DefaultSessionProfile() SessionProfile {
	profile := SessionProfile{}
	profile.applyDefaults()
	return profile
}

// LoadSessionProfile reads a YAML profile; an empty path yields the defaults.
func LoadSessionProfile(path string) (SessionProfile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSessionProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionProfile{}, fmt.Errorf("config: read session profile %s: %w", path, err)
	}
	return ParseSessionProfile(data)
}

func ParseSessionProfile(data []byte) (SessionProfile, error) {
	var profile SessionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return SessionProfile{}, fmt.Errorf("config: parse session profile: %w", err)
	}
	profile.applyDefaults()
	if err := profile.validate(); err != nil {
		return SessionProfile{}, err
	}
	return profile, nil
}

// SessionConfig converts the avatar section into the vendor start config.
func (p SessionProfile) SessionConfig() domain.SessionConfig {
	return domain.SessionConfig{
		AvatarName:         p.Avatar.Name,
		Quality:            p.Avatar.Quality,
		Language:           p.Avatar.Language,
		KnowledgeID:        p.Avatar.KnowledgeID,
		DisableIdleTimeout: boolValue(p.Avatar.DisableIdleTimeout),
		UseSilencePrompt:   boolValue(p.Avatar.UseSilencePrompt),
	}
}

func (p *SessionProfile) applyDefaults() {
	if p.Avatar.Name == "" {
		p.Avatar.Name = "default"
	}
	if p.Avatar.Quality == "" {
		p.Avatar.Quality = "low"
	}
	if p.Avatar.Language == "" {
		p.Avatar.Language = "en"
	}
	if p.Avatar.DisableIdleTimeout == nil {
		p.Avatar.DisableIdleTimeout = boolPtr(true)
	}
	if p.Avatar.UseSilencePrompt == nil {
		p.Avatar.UseSilencePrompt = boolPtr(true)
	}
	if strings.TrimSpace(p.Interviewer.SystemPrompt) == "" {
		p.Interviewer.SystemPrompt = defaultInterviewerPrompt
	}
	if p.Interviewer.Temperature <= 0 {
		p.Interviewer.Temperature = 0.7
	}
	if p.Interviewer.MaxOutputTokens <= 0 {
		p.Interviewer.MaxOutputTokens = 300
	}
	if p.Interviewer.HistoryLimit <= 0 {
		p.Interviewer.HistoryLimit = 20
	}
	if p.Interviewer.FallbackReply == "" {
		p.Interviewer.FallbackReply = "Could you tell me more about that?"
	}
}

func (p SessionProfile) validate() error {
	var errs []string
	switch strings.ToLower(p.Avatar.Quality) {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Sprintf("avatar.quality %q must be low, medium or high", p.Avatar.Quality))
	}
	if p.Interviewer.Temperature > 2 {
		errs = append(errs, "interviewer.temperature must be <= 2")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: session profile validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func boolPtr(value bool) *bool {
	return &value
}

func boolValue(value *bool) bool {
	return value != nil && *value
}
