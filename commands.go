package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/metcalfc/rebook/internal/api"
	"github.com/metcalfc/rebook/internal/config"
	"github.com/metcalfc/rebook/internal/library"
	"github.com/metcalfc/rebook/internal/reader"
	"github.com/metcalfc/rebook/internal/state"
)

var (
	cfgFile  string
	stateDir string
)

var rootCmd = &cobra.Command{
	Use:   "rebook",
	Short: "Read books page by page with sentence-synchronized narration",
	Long: `rebook paginates EPUB, Markdown and plain text books, maps every sentence
to the page it appears on, and narrates two sentences at a time while the
page follows along.

Reading positions are saved per book and restored on the next open.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./rebook.yaml or ~/.rebook/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&stateDir, "state-dir", "", "reading position directory (default: $XDG_STATE_HOME/rebook)",
	)

	readCmd.Flags().Int("word-limit", reader.DefaultWordLimit, "Words per page")
	readCmd.Flags().Int("lookahead", reader.DefaultLookahead, "Pages searched when mapping a sentence")
	readCmd.Flags().String("provider", "", "Narration provider: minimax, elevenlabs or external")
	readCmd.Flags().String("voice", "", "Narration voice id")
	readCmd.Flags().String("player", "", "Audio player command, or \"silent\"")
	readCmd.Flags().Bool("fresh", false, "Ignore saved reading position")
	readCmd.Flags().Bool("toc", false, "Show table of contents at startup")

	serveCmd.Flags().String("addr", "", "Address to listen on (default 127.0.0.1:8080)")
	serveCmd.Flags().String("library", "", "Directory of books to serve (default .)")
	serveCmd.Flags().Int("word-limit", reader.DefaultWordLimit, "Words per page")

	inspectCmd.Flags().Int("word-limit", reader.DefaultWordLimit, "Words per page")
	inspectCmd.Flags().Int("lookahead", reader.DefaultLookahead, "Pages searched when mapping a sentence")
	inspectCmd.Flags().Bool("pages", false, "List every page")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(readCmd, serveCmd, inspectCmd, forgetCmd, historyCmd, configCmd, versionCmd)
}

// flagKeys maps command flags onto config keys.
var flagKeys = map[string]string{
	"word-limit": "reader.word_limit",
	"lookahead":  "reader.lookahead",
	"provider":   "narration.provider",
	"voice":      "narration.voice_id",
	"player":     "audio.player",
	"state-dir":  "state.dir",
	"addr":       "server.addr",
	"library":    "server.library",
}

// loadConfig reads the config and lets any flag set on cmd override it.
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := mgr.BindFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if err := mgr.Get().Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return mgr, nil
}

func openLibrary(cfg *config.Config, logger *slog.Logger) (*library.Library, error) {
	store, err := state.NewStateStore(cfg.State.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open position store: %w", err)
	}
	return library.New(store, logger), nil
}

// fileLogger writes text logs next to the position store so the terminal UI
// keeps the screen.
func fileLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	dir := cfg.State.Dir
	if dir == "" {
		dir = state.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "rebook.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { f.Close() }, nil
}

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Read and narrate a book",
	Long: `Open a book in the reader and narrate it two sentences at a time.

Supported formats: EPUB (.epub), Markdown (.md, .markdown) and plain text.

Examples:
  rebook read book.epub
  rebook read --word-limit 180 notes.md
  rebook read --player silent --fresh story.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		logger, closeLog, err := fileLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		lib, err := openLibrary(cfg, logger)
		if err != nil {
			return err
		}
		book, err := lib.Open(args[0], cfg.ReaderOptions())
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		if book.Session.SentenceCount() == 0 {
			return errors.New("no text to read")
		}
		if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
			book.Session.Restore(reader.Position{})
		}

		r, err := newReading(book, cfg, logger)
		if err != nil {
			return err
		}
		showTOC, _ := cmd.Flags().GetBool("toc")
		return runReader(cmd.Context(), r, mgr, showTOC)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a library of books over HTTP",
	Long: `Start the rebook HTTP API over a directory of books.

The server provides:
  - /health               Basic health check
  - /api/books            Books in the library with their ids
  - /api/session/...      Pages, sentences, selection resolution and positions

Layout settings in the config file are reloaded while the server runs.

Examples:
  rebook serve --library ~/Books
  rebook serve --addr 0.0.0.0:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

		mgr, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg := mgr.Get()

		lib, err := openLibrary(cfg, logger)
		if err != nil {
			return err
		}
		srv := api.NewServer(lib, cfg.Server.Library, cfg.ReaderOptions(), logger)

		mgr.OnChange(func(c *config.Config) {
			srv.SetOptions(c.ReaderOptions())
		})
		mgr.WatchConfig()

		httpServer := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      srv,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		logger.Info("starting rebook", "addr", cfg.Server.Addr, "library", cfg.Server.Library)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show how a book is paginated and mapped",
	Long: `Print the chapters, pages and sentence-to-page mapping of a book.

Sentences whose page differs from the word-count estimate are reported as
drift, which helps tune --word-limit and --lookahead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		book, err := reader.LoadBook(args[0])
		if err != nil {
			return err
		}
		sess := reader.NewSession(args[0], book, mgr.Get().ReaderOptions())
		listPages, _ := cmd.Flags().GetBool("pages")
		fmt.Fprint(cmd.OutOrStdout(), inspect(sess, listPages))
		return nil
	},
}

func inspect(sess *reader.Session, listPages bool) string {
	var b strings.Builder
	opts := sess.Options()
	book := sess.Book

	fmt.Fprintln(&b, titleStyle.Render(book.Title))
	if book.Author != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Author:"), book.Author)
	}
	fmt.Fprintf(&b, "%s %d  %s %d  %s %d  %s %d\n",
		labelStyle.Render("Chapters:"), len(book.Chapters),
		labelStyle.Render("Blocks:"), len(sess.Paragraphs()),
		labelStyle.Render("Pages:"), sess.PageCount(),
		labelStyle.Render("Sentences:"), sess.SentenceCount(),
	)
	fmt.Fprintf(&b, "%s %d words  %s %d pages\n",
		labelStyle.Render("Word limit:"), opts.WordLimit,
		labelStyle.Render("Lookahead:"), opts.Lookahead,
	)

	counts := make([]int, sess.PageCount())
	for i := range counts {
		p, _ := sess.Page(i)
		counts[i] = p.WordCount
	}
	estimate := reader.MapByWordCount(sess.Sentences(), counts)
	mapped := sess.SentencePageMap()

	drift := make([]int, sess.PageCount())
	first := make([]int, sess.PageCount())
	last := make([]int, sess.PageCount())
	for i := range first {
		first[i] = -1
	}
	total := 0
	for i, p := range mapped {
		if first[p] < 0 {
			first[p] = i
		}
		last[p] = i
		if estimate[i] != p {
			drift[p]++
			total++
		}
	}
	fmt.Fprintf(&b, "%s %d sentences\n", labelStyle.Render("Drift:"), total)

	if listPages {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("Page", "Words", "Sentences", "Drift")
		for i := range counts {
			span := "-"
			if first[i] >= 0 {
				span = fmt.Sprintf("%d-%d", first[i]+1, last[i]+1)
			}
			t.Row(strconv.Itoa(i+1), strconv.Itoa(counts[i]), span, strconv.Itoa(drift[i]))
		}
		fmt.Fprintln(&b, t.String())
	}

	if len(book.TOC) > 0 {
		fmt.Fprintln(&b, titleStyle.Render("Contents"))
		for _, e := range book.TOC {
			fmt.Fprintf(&b, "%s%s %s\n", strings.Repeat("  ", e.Level), e.Title,
				labelStyle.Render(fmt.Sprintf("p.%d", e.PageIndex+1)))
		}
	}
	return b.String()
}

var forgetCmd = &cobra.Command{
	Use:   "forget <file>",
	Short: "Remove the saved reading position of a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		lib, err := openLibrary(mgr.Get(), slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		id, err := lib.ForgetFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (%s)\n", args[0], id)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved reading positions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		lib, err := openLibrary(mgr.Get(), slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		entries := lib.History()
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved positions.")
			return nil
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("Title", "Page", "Sentence", "Updated", "Path")
		for _, e := range entries {
			t.Row(e.Title,
				strconv.Itoa(e.PageIndex+1),
				strconv.Itoa(e.SentenceIndex+1),
				e.UpdatedAt.Format("2006-01-02 15:04"),
				e.Path,
			)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.String())
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the rebook configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "rebook.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rebook %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
