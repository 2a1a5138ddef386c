package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/hireloop/interview-engine/internal/interview"
	"github.com/hireloop/interview-engine/pkg/logger"
)

const defaultModel = "gemini-2.0-flash"

// Config holds settings for post-interview feedback generation.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator produces written hiring feedback from a finished interview
// transcript.
type Generator struct {
	config Config
	logger *logger.Logger
}

// NewGenerator creates a feedback generator.
func NewGenerator(config Config, log *logger.Logger) *Generator {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Generator{
		config: config,
		logger: log.Named("feedback-generator"),
	}
}

// Generate asks the model for structured feedback on the candidate's
// performance. The transcript must contain at least one candidate turn.
func (g *Generator) Generate(ctx context.Context, cfg interview.SessionConfig, transcript []interview.TranscriptEntry) (string, error) {
	if !hasCandidateTurn(transcript) {
		return "", fmt.Errorf("transcript has no candidate answers to evaluate")
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	prompt := buildFeedbackPrompt(cfg, transcript)
	g.logger.Debug("Requesting interview feedback",
		logger.String("model", g.config.Model),
		logger.Int("transcript_entries", len(transcript)))

	resp, err := client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("feedback generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned empty feedback")
	}
	return text, nil
}

func hasCandidateTurn(transcript []interview.TranscriptEntry) bool {
	for _, entry := range transcript {
		if entry.Speaker == interview.SpeakerCandidate {
			return true
		}
	}
	return false
}

func buildFeedbackPrompt(cfg interview.SessionConfig, transcript []interview.TranscriptEntry) string {
	var builder strings.Builder

	builder.WriteString("You are an experienced hiring manager. Below is the transcript of a mock interview")
	if cfg.JobTitle != "" {
		builder.WriteString(fmt.Sprintf(" for the position of %s", cfg.JobTitle))
	}
	if cfg.Company != "" {
		builder.WriteString(fmt.Sprintf(" at %s", cfg.Company))
	}
	builder.WriteString(".\n\n")

	if desc := strings.TrimSpace(cfg.JobDescription); desc != "" {
		builder.WriteString("JOB DESCRIPTION:\n")
		builder.WriteString(desc)
		builder.WriteString("\n\n")
	}

	builder.WriteString("TRANSCRIPT:\n")
	for _, entry := range transcript {
		speaker := "Interviewer"
		if entry.Speaker == interview.SpeakerCandidate {
			speaker = "Candidate"
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", speaker, entry.Text))
	}
	builder.WriteString("\n")

	builder.WriteString(`Write feedback for the candidate with these sections:
1. Overall impression (two or three sentences).
2. Strengths, with specific quotes or moments from the transcript.
3. Areas to improve, each with a concrete suggestion.
4. A score from 1 to 10 with a one-sentence justification.

Be direct and specific. Base every point on what the candidate actually said.`)

	return builder.String()
}
