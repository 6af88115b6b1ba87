// Package inference calls the hosted speech-to-text and chat completion models.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	summarySystemPrompt = "Ti si pomočnik, ki ustvarja strukturirane povzetke posnetkov v slovenščini."
	summaryUserPrompt   = `Povzemi naslednji prepis posnetka v slovenščini. Vključi:
- Ključne točke (kot seznam)
- Odločitve (kot seznam)
- Akcijske korake (kot seznam)

Prepis:
%s`
	titleSystemPrompt = "Ti si pomočnik, ki ustvarja kratke naslove posnetkov v slovenščini (3-5 besed)."
	titleUserPrompt   = `Ustvari kratek naslov (3-5 besed) v slovenščini za naslednji prepis posnetka. Vrni samo naslov brez narekovajev ali dodatnega besedila.

Prepis:
%s`

	summaryTemperature = 0.7
	titleTemperature   = 0.5
	titleMaxTokens     = 20
	// titleInputChars limits how much of the transcript is sent for title generation.
	titleInputChars = 1000
)

var (
	// ErrUpstream marks failures reported by the inference API or the transport to it.
	ErrUpstream = errors.New("inference upstream failure")
	// ErrNotGenerated is returned when a completion succeeded but carried no content.
	ErrNotGenerated = errors.New("no content generated")
)

// UpstreamError wraps an inference API failure with the operation that failed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is matches ErrUpstream.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Config holds client settings.
type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SummaryModel       string
	TitleModel         string
	HTTPClient         *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient creates an inference client for an OpenAI-compatible API.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("inference api key is required")
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-large-v3"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "llama-3.1-70b-versatile"
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = "llama-3.1-8b-instant"
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, logger: logger}, nil
}

// Transcribe sends audio to the speech-to-text model. An empty transcription is not an error.
// contentType only picks the upload filename's extension; the multipart part carries no MIME type,
// so the upstream API infers the format from that extension.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: uploadFilename(filename, contentType),
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", &UpstreamError{Op: "failed to transcribe audio", Err: err}
	}
	c.logger.Debug("transcription received", zap.Int("audio_bytes", len(audio)), zap.Int("text_len", len(resp.Text)))
	return resp.Text, nil
}

// Summarize produces bulleted key points, decisions and action items in Slovenian.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.SummaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(summaryUserPrompt, text)},
		},
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", &UpstreamError{Op: "failed to generate summary", Err: err}
	}
	summary := firstContent(resp)
	if summary == "" {
		return "", fmt.Errorf("failed to generate summary: %w", ErrNotGenerated)
	}
	return summary, nil
}

// Title produces a 3-5 word Slovenian title from the start of the text.
func (c *Client) Title(ctx context.Context, text string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.TitleModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(titleUserPrompt, truncateRunes(text, titleInputChars))},
		},
		Temperature: titleTemperature,
		MaxTokens:   titleMaxTokens,
	})
	if err != nil {
		return "", &UpstreamError{Op: "failed to generate title", Err: err}
	}
	title := strings.TrimSpace(firstContent(resp))
	if title == "" {
		return "", fmt.Errorf("failed to generate title: %w", ErrNotGenerated)
	}
	return StripQuotes(title), nil
}

// StripQuotes removes one leading and one trailing quote character.
func StripQuotes(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") {
		s = s[1:]
	}
	if strings.HasSuffix(s, `"`) || strings.HasSuffix(s, "'") {
		s = s[:len(s)-1]
	}
	return s
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var audioExtensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/mp4":   ".mp4",
	"audio/m4a":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/ogg":   ".ogg",
	"video/webm":  ".webm",
	"video/mp4":   ".mp4",
}

// uploadFilename makes sure the multipart filename carries an extension, since the
// upstream detects the audio format from it.
func uploadFilename(filename, contentType string) string {
	if filename == "" {
		filename = "audio"
	}
	if path.Ext(filename) != "" {
		return filename
	}
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := audioExtensions[mime]; ok {
		return filename + ext
	}
	return filename
}
