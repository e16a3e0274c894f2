package narration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	MiniMaxAPIBaseURL     = "https://api.minimaxi.com/v1"
	MiniMaxDefaultModel   = "speech-2.6-hd"
	MiniMaxDefaultFormat  = "mp3"
	miniMaxResponseFormat = "hex"
)

// MiniMaxClient implements Provider using the MiniMax t2a_v2 API. Audio
// comes back hex encoded inside a JSON envelope.
type MiniMaxClient struct {
	apiKey  string
	baseURL string
	voice   Voice
	client  *http.Client
	logger  *slog.Logger
}

// NewMiniMaxClient creates a new MiniMax client.
func NewMiniMaxClient(cfg Config) *MiniMaxClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MiniMaxAPIBaseURL
	}
	if cfg.Voice.Model == "" {
		cfg.Voice.Model = MiniMaxDefaultModel
	}
	if cfg.Voice.Format == "" {
		cfg.Voice.Format = MiniMaxDefaultFormat
	}
	return &MiniMaxClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		voice:   cfg.Voice,
		client:  httpClient(cfg.Timeout),
		logger:  loggerOr(cfg.Logger),
	}
}

// Name returns the provider identifier.
func (c *MiniMaxClient) Name() string { return MiniMaxName }

// Synthesize converts text to audio in the requested format.
func (c *MiniMaxClient) Synthesize(ctx context.Context, text string, voice Voice) (*Clip, error) {
	start := time.Now()
	voice = withDefaults(voice, c.voice)
	if voice.ID == "" {
		return nil, &Error{Provider: MiniMaxName, Message: "voice_id is required"}
	}

	payload := miniMaxRequest{
		Model:        voice.Model,
		Text:         text,
		Stream:       false,
		VoiceSetting: miniMaxVoiceSetting{VoiceID: voice.ID},
		AudioSetting: miniMaxAudioSetting{Format: voice.Format},
		OutputFormat: miniMaxResponseFormat,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/t2a_v2", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	body, _, err := do(c.client, MiniMaxName, req, nil)
	if err != nil {
		return nil, err
	}

	var resp miniMaxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Provider: MiniMaxName, Message: "response parse failed", Err: err}
	}
	// A 200 with a non-zero status code is an API-level failure.
	if resp.BaseResp != nil && resp.BaseResp.StatusCode != 0 {
		msg := resp.BaseResp.StatusMsg
		if msg == "" {
			msg = "synthesis failed"
		}
		return nil, &Error{Provider: MiniMaxName, Message: fmt.Sprintf("%s (code %d)", msg, resp.BaseResp.StatusCode)}
	}
	if resp.Data == nil || resp.Data.Audio == "" {
		return nil, &Error{Provider: MiniMaxName, Message: "response missing audio data"}
	}

	audio, err := hex.DecodeString(resp.Data.Audio)
	if err != nil {
		return nil, &Error{Provider: MiniMaxName, Message: "invalid audio hex"}
	}

	c.logger.Debug("synthesized", "provider", MiniMaxName, "chars", len(text), "bytes", len(audio), "duration", time.Since(start))
	return &Clip{Data: audio, MIME: MIMEForFormat(voice.Format)}, nil
}

// MiniMax API types

type miniMaxRequest struct {
	Model        string              `json:"model"`
	Text         string              `json:"text"`
	Stream       bool                `json:"stream"`
	VoiceSetting miniMaxVoiceSetting `json:"voice_setting"`
	AudioSetting miniMaxAudioSetting `json:"audio_setting"`
	OutputFormat string              `json:"output_format"`
}

type miniMaxVoiceSetting struct {
	VoiceID string `json:"voice_id"`
}

type miniMaxAudioSetting struct {
	Format string `json:"format"`
}

type miniMaxResponse struct {
	Data     *miniMaxData     `json:"data"`
	BaseResp *miniMaxBaseResp `json:"base_resp"`
}

type miniMaxData struct {
	Audio  string `json:"audio"`
	Status int    `json:"status"`
}

type miniMaxBaseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

// Verify interface
var _ Provider = (*MiniMaxClient)(nil)
