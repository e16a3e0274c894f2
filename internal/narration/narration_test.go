package narration

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMIMEForFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"wav", "audio/wav"},
		{"flac", "audio/flac"},
		{"pcm", "audio/pcm"},
		{"mp3", "audio/mpeg"},
		{"", "audio/mpeg"},
		{"WAV", "audio/wav"},
	}
	for _, tt := range tests {
		if got := MIMEForFormat(tt.format); got != tt.want {
			t.Errorf("MIMEForFormat(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default is minimax", Config{APIKey: "k"}, MiniMaxName, false},
		{"elevenlabs", Config{Provider: ElevenLabsName, APIKey: "k"}, ElevenLabsName, false},
		{"external without key", Config{Provider: ExternalName, BaseURL: "http://localhost"}, ExternalName, false},
		{"minimax without key", Config{Provider: MiniMaxName}, "", true},
		{"external without url", Config{Provider: ExternalName}, "", true},
		{"unknown", Config{Provider: "espeak", APIKey: "k"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
			}
		})
	}

	if _, err := New(Config{Provider: ElevenLabsName}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestMiniMaxSynthesize(t *testing.T) {
	audio := []byte{0xff, 0xfb, 0x90, 0x00}
	var got miniMaxRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/t2a_v2" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"data":      map[string]any{"audio": hex.EncodeToString(audio), "status": 2},
			"base_resp": map[string]any{"status_code": 0, "status_msg": "success"},
		})
	}))
	defer srv.Close()

	c := NewMiniMaxClient(Config{APIKey: "secret", BaseURL: srv.URL, Voice: Voice{ID: "narrator"}})
	clip, err := c.Synthesize(context.Background(), "Hello there. General Kenobi.", Voice{Format: "wav"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != string(audio) || clip.MIME != "audio/wav" {
		t.Errorf("clip = %x %s", clip.Data, clip.MIME)
	}

	if got.Model != MiniMaxDefaultModel || got.VoiceSetting.VoiceID != "narrator" || got.AudioSetting.Format != "wav" {
		t.Errorf("request = %+v", got)
	}
	if got.OutputFormat != "hex" || got.Stream {
		t.Errorf("request output = %q stream = %v", got.OutputFormat, got.Stream)
	}
}

func TestMiniMaxErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"api status", http.StatusOK, `{"base_resp":{"status_code":1004,"status_msg":"auth failed"}}`, false},
		{"missing data", http.StatusOK, `{"base_resp":{"status_code":0}}`, false},
		{"bad hex", http.StatusOK, `{"data":{"audio":"zz"},"base_resp":{"status_code":0}}`, false},
		{"not json", http.StatusOK, `<html>`, false},
		{"server error", http.StatusBadGateway, `upstream down`, true},
		{"rate limited", http.StatusTooManyRequests, `slow down`, true},
		{"bad request", http.StatusBadRequest, `nope`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewMiniMaxClient(Config{APIKey: "k", BaseURL: srv.URL, Voice: Voice{ID: "v"}})
			_, err := c.Synthesize(context.Background(), "text", Voice{})
			var nerr *Error
			if !errors.As(err, &nerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if nerr.Provider != MiniMaxName {
				t.Errorf("provider = %q", nerr.Provider)
			}
			if nerr.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", nerr.Temporary(), tt.temporary)
			}
		})
	}
}

func TestMiniMaxRequiresVoice(t *testing.T) {
	c := NewMiniMaxClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	if _, err := c.Synthesize(context.Background(), "text", Voice{}); err == nil {
		t.Error("expected error without voice id")
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	var got elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.Header.Get("xi-api-key"); key != "secret" {
			t.Errorf("xi-api-key = %q", key)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c := NewElevenLabsClient(Config{APIKey: "secret", BaseURL: srv.URL})
	clip, err := c.Synthesize(context.Background(), "Read on!", Voice{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != "ID3audio" || clip.MIME != "audio/mpeg" {
		t.Errorf("clip = %q %s", clip.Data, clip.MIME)
	}
	if got.Text != "Read on!" || got.ModelID != ElevenLabsDefaultModel {
		t.Errorf("request = %+v", got)
	}
}

func TestElevenLabsErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`)
	}))
	defer srv.Close()

	c := NewElevenLabsClient(Config{APIKey: "bad", BaseURL: srv.URL, Voice: Voice{ID: "v"}})
	_, err := c.Synthesize(context.Background(), "text", Voice{})
	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v", err)
	}
	if nerr.StatusCode != http.StatusUnauthorized || nerr.Message != "Invalid API key" || nerr.Temporary() {
		t.Errorf("error = %+v", nerr)
	}
}

func TestExternalSynthesize(t *testing.T) {
	t.Run("raw audio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/synthesize" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "" {
				t.Errorf("unexpected Authorization %q", auth)
			}
			var req externalRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Text != "Hi." || req.VoiceID != "v" || req.Format != "wav" {
				t.Errorf("request = %+v", req)
			}
			w.Header().Set("Content-Type", "audio/wav")
			w.Write([]byte("RIFF"))
		}))
		defer srv.Close()

		c := NewExternalClient(Config{BaseURL: srv.URL + "/", Voice: Voice{ID: "v", Format: "wav"}})
		clip, err := c.Synthesize(context.Background(), "Hi.", Voice{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if string(clip.Data) != "RIFF" || clip.MIME != "audio/wav" {
			t.Errorf("clip = %q %s", clip.Data, clip.MIME)
		}
	})

	t.Run("json audio", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
				t.Errorf("Authorization = %q", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"audioBase64": base64.StdEncoding.EncodeToString([]byte("mp3!"))})
		}))
		defer srv.Close()

		c := NewExternalClient(Config{APIKey: "tok", BaseURL: srv.URL})
		clip, err := c.Synthesize(context.Background(), "Hi.", Voice{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if string(clip.Data) != "mp3!" || clip.MIME != "audio/mpeg" {
			t.Errorf("clip = %q %s", clip.Data, clip.MIME)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewExternalClient(Config{BaseURL: url})
		_, err := c.Synthesize(context.Background(), "Hi.", Voice{})
		var nerr *Error
		if !errors.As(err, &nerr) || !nerr.Temporary() {
			t.Errorf("err = %v, want temporary *Error", err)
		}
	})
}
