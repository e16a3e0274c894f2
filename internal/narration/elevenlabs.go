package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	ElevenLabsAPIBaseURL   = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultModel = "eleven_multilingual_v2"
)

// ElevenLabsClient implements Provider using the ElevenLabs API.
type ElevenLabsClient struct {
	apiKey  string
	baseURL string
	voice   Voice
	client  *http.Client
	logger  *slog.Logger
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg Config) *ElevenLabsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ElevenLabsAPIBaseURL
	}
	if cfg.Voice.Model == "" {
		cfg.Voice.Model = ElevenLabsDefaultModel
	}
	return &ElevenLabsClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		voice:   cfg.Voice,
		client:  httpClient(cfg.Timeout),
		logger:  loggerOr(cfg.Logger),
	}
}

// Name returns the provider identifier.
func (c *ElevenLabsClient) Name() string { return ElevenLabsName }

// Synthesize converts text to MPEG audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, voice Voice) (*Clip, error) {
	start := time.Now()
	voice = withDefaults(voice, c.voice)
	if voice.ID == "" {
		return nil, &Error{Provider: ElevenLabsName, Message: "voice_id is required"}
	}

	bodyBytes, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: voice.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/text-to-speech/" + url.PathEscape(voice.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	audio, _, err := do(c.client, ElevenLabsName, req, func(body []byte) string {
		var errResp elevenLabsErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			return errResp.Detail.Message
		}
		return ""
	})
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &Error{Provider: ElevenLabsName, Message: "empty audio response"}
	}

	c.logger.Debug("synthesized", "provider", ElevenLabsName, "chars", len(text), "bytes", len(audio), "duration", time.Since(start))
	return &Clip{Data: audio, MIME: "audio/mpeg"}, nil
}

func withDefaults(v, def Voice) Voice {
	if v.ID == "" {
		v.ID = def.ID
	}
	if v.Model == "" {
		v.Model = def.Model
	}
	if v.Format == "" {
		v.Format = def.Format
	}
	return v
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Verify interface
var _ Provider = (*ElevenLabsClient)(nil)
