package narration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ExternalClient implements Provider against a self-hosted service exposing
// POST {base}/synthesize. The service answers with raw audio/* bytes or a
// JSON {audioBase64, mime} document.
type ExternalClient struct {
	apiKey   string
	endpoint string
	voice    Voice
	client   *http.Client
	logger   *slog.Logger
}

// NewExternalClient creates a new external service client. The API key is
// optional and sent as a bearer token when set.
func NewExternalClient(cfg Config) *ExternalClient {
	return &ExternalClient{
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/synthesize",
		voice:    cfg.Voice,
		client:   httpClient(cfg.Timeout),
		logger:   loggerOr(cfg.Logger),
	}
}

// Name returns the provider identifier.
func (c *ExternalClient) Name() string { return ExternalName }

// Synthesize converts text to audio.
func (c *ExternalClient) Synthesize(ctx context.Context, text string, voice Voice) (*Clip, error) {
	start := time.Now()
	voice = withDefaults(voice, c.voice)

	bodyBytes, err := json.Marshal(externalRequest{Text: text, VoiceID: voice.ID, Format: voice.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	body, header, err := do(c.client, ExternalName, req, nil)
	if err != nil {
		return nil, err
	}

	clip, err := decodeExternal(body, header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("synthesized", "provider", ExternalName, "chars", len(text), "bytes", len(clip.Data), "duration", time.Since(start))
	return clip, nil
}

func decodeExternal(body []byte, contentType string) (*Clip, error) {
	if strings.HasPrefix(contentType, "audio/") {
		if len(body) == 0 {
			return nil, &Error{Provider: ExternalName, Message: "empty audio response"}
		}
		return &Clip{Data: body, MIME: contentType}, nil
	}

	var resp externalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Provider: ExternalName, Message: "failed parsing JSON response", Err: err}
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, &Error{Provider: ExternalName, Message: "invalid base64 audio"}
	}
	if len(audio) == 0 {
		return nil, &Error{Provider: ExternalName, Message: "response missing audio"}
	}
	mime := resp.MIME
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &Clip{Data: audio, MIME: mime}, nil
}

type externalRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
	Format  string `json:"format,omitempty"`
}

type externalResponse struct {
	AudioBase64 string `json:"audioBase64"`
	MIME        string `json:"mime"`
}

// Verify interface
var _ Provider = (*ExternalClient)(nil)
