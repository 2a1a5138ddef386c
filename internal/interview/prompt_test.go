package interview

import (
	"strings"
	"testing"
	"time"
)

func TestBuildSystemPromptIncludesContext(t *testing.T) {
	cfg := SessionConfig{
		JobTitle:            "Site Reliability Engineer",
		Company:             "Acme Corp",
		JobDescription:      "Run the fleet.",
		ResumeText:          "Ten years of on-call.",
		TechnicalQuestions:  []string{"Explain a load balancer.", "What is a goroutine?"},
		BehavioralQuestions: []string{"Describe a conflict you resolved."},
		MaxDuration:         45 * time.Minute,
	}

	prompt := BuildSystemPrompt(cfg)

	for _, want := range []string{
		"Site Reliability Engineer at Acme Corp",
		"JOB DESCRIPTION:\nRun the fleet.",
		"CANDIDATE RESUME:\nTen years of on-call.",
		"Technical:\n1. Explain a load balancer.\n2. What is a goroutine?",
		"Behavioral:\n1. Describe a conflict you resolved.",
		"lasts 45 minutes",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, prompt)
		}
	}
}

func TestBuildSystemPromptOmitsEmptySections(t *testing.T) {
	prompt := BuildSystemPrompt(SessionConfig{JobTitle: "Analyst"})

	for _, absent := range []string{"JOB DESCRIPTION:", "CANDIDATE RESUME:", "QUESTIONS TO COVER:", "Analyst at"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("prompt contains %q for an empty config\n---\n%s", absent, prompt)
		}
	}
	if !strings.Contains(prompt, "position of Analyst") {
		t.Errorf("prompt missing job title\n---\n%s", prompt)
	}
}

func TestBuildSystemPromptFallbackTitle(t *testing.T) {
	prompt := BuildSystemPrompt(SessionConfig{})
	if !strings.Contains(prompt, "position of the advertised role") {
		t.Errorf("prompt missing fallback title\n---\n%s", prompt)
	}
	// Zero duration falls back to the default pacing hint.
	if !strings.Contains(prompt, "lasts about 30 minutes") {
		t.Errorf("prompt missing default duration\n---\n%s", prompt)
	}
}

func TestFormatQuestions(t *testing.T) {
	tests := []struct {
		name       string
		technical  []string
		behavioral []string
		want       string
	}{
		{"empty", nil, nil, ""},
		{"technical only", []string{"Q1"}, nil, "Technical:\n1. Q1"},
		{"behavioral only", nil, []string{"Q1"}, "Behavioral:\n1. Q1"},
		{"both", []string{"QT"}, []string{"QB"}, "Technical:\n1. QT\n\nBehavioral:\n1. QB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatQuestions(tt.technical, tt.behavioral); got != tt.want {
				t.Fatalf("formatQuestions() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "about 30 minutes"},
		{30 * time.Second, "1 minute"},
		{time.Minute, "1 minute"},
		{30 * time.Minute, "30 minutes"},
		{90 * time.Minute, "90 minutes"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
