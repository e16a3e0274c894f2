// Package narration synthesizes speech for sentence chunks through hosted
// text-to-speech services.
package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Clip is a synthesized audio clip.
type Clip struct {
	Data []byte
	MIME string
}

// Voice selects the voice and encoding for a request. Empty fields use the
// provider's configured defaults.
type Voice struct {
	ID     string
	Model  string
	Format string
}

// Provider converts text to audio. Implementations do not retry.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string, voice Voice) (*Clip, error)
}

// Error is a failed synthesis request.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the failure may succeed if sent again: transport
// errors, rate limiting and server errors.
func (e *Error) Temporary() bool {
	if e.StatusCode == 0 {
		var netErr net.Error
		return errors.As(e.Err, &netErr)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrMissingAPIKey is returned by New when the selected provider has no key.
var ErrMissingAPIKey = errors.New("missing API key")

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Voice    Voice
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Provider names.
const (
	MiniMaxName    = "minimax"
	ElevenLabsName = "elevenlabs"
	ExternalName   = "external"
)

// Providers lists the supported provider names.
func Providers() []string {
	return []string{MiniMaxName, ElevenLabsName, ExternalName}
}

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case MiniMaxName, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", MiniMaxName, ErrMissingAPIKey)
		}
		return NewMiniMaxClient(cfg), nil
	case ElevenLabsName:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", ElevenLabsName, ErrMissingAPIKey)
		}
		return NewElevenLabsClient(cfg), nil
	case ExternalName:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%s: base URL is required", ExternalName)
		}
		return NewExternalClient(cfg), nil
	}
	return nil, fmt.Errorf("unknown narration provider %q", cfg.Provider)
}

// MIMEForFormat maps an audio format name to its content type.
func MIMEForFormat(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	}
	return "audio/mpeg"
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// do sends req and returns the body of a 2xx response. Other statuses become
// an *Error carrying errMessage's reading of the body.
func do(client *http.Client, provider string, req *http.Request, errMessage func([]byte) string) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, &Error{Provider: provider, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Error{Provider: provider, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if errMessage != nil {
			if m := errMessage(body); m != "" {
				msg = m
			}
		}
		return nil, nil, &Error{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	}
	return body, resp.Header, nil
}
