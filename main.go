// Package main provides the entry point for the Parley CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/parley-voice/parley/internal/audio"
	"github.com/parley-voice/parley/internal/cache"
	"github.com/parley-voice/parley/internal/llm"
	"github.com/parley-voice/parley/internal/pipeline"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	style        string
	voice        string
	modelName    string
	endpoint     string
	speakingRate float64
	cacheDir     string
	cacheEntries int
	mute         bool

	rootCmd = &cobra.Command{
		Use:   "parley [QUESTION]",
		Short: "Ask questions out loud, hear the answers",
		Long: paragraph(
			fmt.Sprintf("\nAsk a question and %s while the text unfolds on screen. Answers you have heard before replay instantly from the local cache.", keyword("hear the answer spoken")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	voice = viper.GetString("speech.voice")
	endpoint = viper.GetString("speech.endpoint")
	speakingRate = viper.GetFloat64("speech.speaking_rate")
	modelName = viper.GetString("model.name")
	cacheDir = viper.GetString("cache.dir")
	cacheEntries = viper.GetInt("cache.entries")

	if speakingRate < 0.25 || speakingRate > 4.0 {
		return fmt.Errorf("speaking rate must be between 0.25 and 4.0, got %.2f", speakingRate)
	}
	if cacheEntries < 1 || cacheEntries > 1000 {
		return fmt.Errorf("cache entries must be between 1 and 1000, got %d", cacheEntries)
	}

	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	// Use the no-TTY style when stdout is not a terminal and no style
	// was passed by arg.
	if !term.IsTerminal(int(os.Stdout.Fd())) && !cmd.Flags().Changed("style") {
		style = "notty"
	}
	return nil
}

// validateStyle checks if the style is a default style, if not, checks
// that the custom style file exists.
func validateStyle(style string) error {
	if style != "auto" && styles.DefaultStyles[style] == nil {
		style = expandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

// expandPath expands a leading tilde to the user's home directory.
func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// session bundles everything one question/answer session needs.
type session struct {
	controller *pipeline.Controller
	events     chan pipeline.Event
	store      *cache.Store
	device     audio.Player
}

func (s *session) close() {
	s.controller.Stop()
	s.device.Close()
	_ = s.store.Close()
}

// newSession wires the pipeline from config: synthesis client, audio
// device, answer cache and model client.
func newSession() (*session, error) {
	dir := cacheDir
	if dir == "" {
		scope := gap.NewScope(gap.User, "parley")
		cacheRoot, err := scope.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("could not resolve cache directory: %w", err)
		}
		dir = filepath.Join(cacheRoot, "answers")
	} else {
		dir = expandPath(dir)
	}

	store, err := cache.NewStore(dir, cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("could not open answer cache: %w", err)
	}

	model, err := llm.NewOpenAI(llm.Config{
		APIKey:  firstNonEmpty(viper.GetString("model.api_key"), os.Getenv("OPENAI_API_KEY")),
		BaseURL: viper.GetString("model.base_url"),
		Model:   modelName,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cooldown := speech.NewCooldown()
	synth := speech.NewClient(speech.ClientConfig{
		Endpoint:     endpoint,
		APIKey:       firstNonEmpty(viper.GetString("speech.api_key"), os.Getenv("PARLEY_SPEECH_KEY")),
		Voice:        voice,
		SpeakingRate: speakingRate,
	}, cooldown)

	var device audio.Player
	if mute {
		device = audio.NewMockPlayer()
	} else {
		device, err = audio.NewDevice()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	events := make(chan pipeline.Event, 64)
	controller := pipeline.New(pipeline.Config{
		Synth:    synth,
		Player:   device,
		Store:    store,
		Model:    model,
		Cooldown: cooldown,
		Notify: func(e pipeline.Event) {
			select {
			case events <- e:
			default:
				log.Debug("dropping event, consumer behind", "event", fmt.Sprintf("%T", e))
			}
		},
	})

	return &session{
		controller: controller,
		events:     events,
		store:      store,
		device:     device,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return runTUI()
	}
	return executeAsk(cmd, strings.Join(args, " "), os.Stdout)
}

// executeAsk answers one question and exits: print the answer, and
// speak it when stdout is a terminal.
func executeAsk(_ *cobra.Command, question string, w io.Writer) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		// Piped output gets text only, no playback.
		return printAnswerOnly(question, w)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	s.controller.Ask(context.Background(), question)
	for e := range s.events {
		switch e := e.(type) {
		case pipeline.AnswerEvent:
			out, err := renderAnswer(e.Answer)
			if err != nil {
				out = e.Answer + "\n"
			}
			if _, err := fmt.Fprint(w, out); err != nil {
				return fmt.Errorf("unable to write to writer: %w", err)
			}
		case pipeline.CooldownEvent:
			log.Info("synthesis rate limited", "resuming_in", e.Remaining.Round(time.Second))
		case pipeline.DoneEvent:
			return e.Err
		}
	}
	return nil
}

func printAnswerOnly(question string, w io.Writer) error {
	model, err := llm.NewOpenAI(llm.Config{
		APIKey:  firstNonEmpty(viper.GetString("model.api_key"), os.Getenv("OPENAI_API_KEY")),
		BaseURL: viper.GetString("model.base_url"),
		Model:   modelName,
	})
	if err != nil {
		return err
	}
	answer, err := model.Answer(context.Background(), question)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, answer)
	return err
}

func renderAnswer(answer string) (string, error) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
		if width > 120 {
			width = 120
		}
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	return r.Render(answer)
}

func runTUI() error {
	// Read environment to get debugging stuff.
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	if cfg.GlamourStyle == "" || validateStyle(cfg.GlamourStyle) != nil {
		cfg.GlamourStyle = style
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := ui.NewProgram(cfg, s.controller, s.events, s.store).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().StringVarP(&voice, "voice", "v", "alloy", "voice used for synthesis")
	rootCmd.Flags().StringVarP(&modelName, "model", "m", "", "chat model used to answer questions")
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "", "speech synthesis endpoint")
	rootCmd.Flags().Float64Var(&speakingRate, "rate", 1.0, "speaking rate (0.25 to 4.0)")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for the answer cache")
	rootCmd.Flags().IntVar(&cacheEntries, "cache-entries", cache.DefaultMaxEntries, "answers kept in the cache")
	rootCmd.Flags().BoolVar(&mute, "mute", false, "run without audio output")
	_ = rootCmd.Flags().MarkHidden("mute")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("speech.voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("speech.endpoint", rootCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("speech.speaking_rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("model.name", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("cache.dir", rootCmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("cache.entries", rootCmd.Flags().Lookup("cache-entries"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("speech.voice", "alloy")
	viper.SetDefault("speech.endpoint", "")
	viper.SetDefault("speech.speaking_rate", 1.0)
	viper.SetDefault("model.name", "")
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.entries", cache.DefaultMaxEntries)

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "parley")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "parley")}, dirs...)
	}

	if c := os.Getenv("PARLEY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("parley")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("parley")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "parley.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
