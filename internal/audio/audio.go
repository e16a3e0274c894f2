// Package audio plays synthesized clips.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/metcalfc/rebook/internal/narration"
)

// Player plays one clip at a time. Play blocks until the clip finishes, ctx
// is cancelled or Stop is called.
type Player interface {
	Play(ctx context.Context, clip *narration.Clip) error
	Stop()
}

// ErrStopped is returned by Play when Stop interrupted playback.
var ErrStopped = errors.New("playback stopped")

// SilentName selects the SilentPlayer.
const SilentName = "silent"

// candidates are tried in order when no player is configured.
var candidates = []string{"mpv", "ffplay", "afplay", "paplay"}

var playerArgs = map[string][]string{
	"mpv":    {"--no-video", "--really-quiet"},
	"ffplay": {"-nodisp", "-autoexit", "-loglevel", "quiet"},
}

// New returns the player named by command: "silent", a command on PATH, or
// the first available candidate when command is empty.
func New(command string, logger *slog.Logger) (Player, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if command == SilentName {
		return &SilentPlayer{}, nil
	}
	if command != "" {
		fields := strings.Fields(command)
		path, err := exec.LookPath(fields[0])
		if err != nil {
			return nil, fmt.Errorf("audio player %q: %w", fields[0], err)
		}
		return &ExecPlayer{Path: path, Args: fields[1:]}, nil
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("audio player detected", "player", name)
			return &ExecPlayer{Path: path, Args: playerArgs[name]}, nil
		}
	}
	return nil, fmt.Errorf("no audio player found (tried %s)", strings.Join(candidates, ", "))
}

// ExecPlayer writes each clip to a temporary file and plays it with an
// external command. Stop interrupts every clip that is playing and every
// Play that has begun but not yet started its command. A Play whose context
// is already done never starts the command.
type ExecPlayer struct {
	Path string
	Args []string

	mu      sync.Mutex
	stops   uint64
	nextID  uint64
	running map[uint64]context.CancelFunc
}

func (p *ExecPlayer) Play(ctx context.Context, clip *narration.Clip) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	p.mu.Lock()
	stops := p.stops
	p.mu.Unlock()

	f, err := os.CreateTemp("", "rebook-*"+extension(clip.MIME))
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id, ok := p.register(ctx, stops, cancel)
	if !ok {
		return ErrStopped
	}
	defer p.unregister(id)

	args := append(append([]string{}, p.Args...), f.Name())
	err = exec.CommandContext(ctx, p.Path, args...).Run()
	if ctx.Err() != nil {
		return ErrStopped
	}
	if err != nil {
		return fmt.Errorf("audio player: %w", err)
	}
	return nil
}

// register records cancel for Stop unless a Stop happened after the Play
// began or ctx is already done.
func (p *ExecPlayer) register(ctx context.Context, stops uint64, cancel context.CancelFunc) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stops != stops || ctx.Err() != nil {
		return 0, false
	}
	if p.running == nil {
		p.running = make(map[uint64]context.CancelFunc)
	}
	p.nextID++
	p.running[p.nextID] = cancel
	return p.nextID, true
}

func (p *ExecPlayer) unregister(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	for id, cancel := range p.running {
		cancel()
		delete(p.running, id)
	}
}

// SilentPlayer finishes every clip immediately. Useful for headless runs and
// for exercising playback without a sound device.
type SilentPlayer struct {
	mu     sync.Mutex
	played int
}

func (p *SilentPlayer) Play(ctx context.Context, clip *narration.Clip) error {
	if err := ctx.Err(); err != nil {
		return ErrStopped
	}
	p.mu.Lock()
	p.played++
	p.mu.Unlock()
	return nil
}

func (p *SilentPlayer) Stop() {}

// Played returns the number of clips played.
func (p *SilentPlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func extension(mime string) string {
	switch mime {
	case "audio/wav":
		return ".wav"
	case "audio/flac":
		return ".flac"
	case "audio/pcm":
		return ".pcm"
	}
	return ".mp3"
}
