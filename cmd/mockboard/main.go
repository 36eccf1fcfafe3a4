package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mockboard/internal/evaluator"
	"github.com/pavelanni/mockboard/internal/handler"
	appI18n "github.com/pavelanni/mockboard/internal/i18n"
	"github.com/pavelanni/mockboard/internal/llm"
	"github.com/pavelanni/mockboard/internal/llm/prompts"
	"github.com/pavelanni/mockboard/internal/model"
	"github.com/pavelanni/mockboard/internal/settings"
	"github.com/pavelanni/mockboard/internal/storage"
	"github.com/pavelanni/mockboard/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mockboard",
		Short: "Board and entrance exam practice with AI evaluation",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mockboard --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins (repeatable)")
	f.Duration("request-timeout", 5*time.Minute, "Deadline for a single HTTP request, including evaluation")
	addEngineFlags(cmd)
	return cmd
}

// addEngineFlags registers the flags shared by every command that evaluates sessions.
func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "mockboard.db", "SQLite database path")
	f.String("data-dir", "./data", "Directory for uploaded answer images")
	f.StringP("lang", "l", "en", "Language for feedback and messages (en, hi)")
	f.String("openrouter-key", "", "OpenRouter API key (overridden by the stored setting)")
	f.String("gemini-key", "", "Gemini API key (overridden by the stored setting)")
	f.String("ai-provider", "", "Preferred AI provider (openrouter, gemini)")
	f.String("openrouter-model", "", "OpenRouter model name (empty for the default)")
	f.String("gemini-model", "", "Gemini model name (empty for the default)")
	f.String("app-url", "http://localhost:8080", "Application URL sent to OpenRouter as HTTP-Referer")
	f.Duration("ai-timeout", llm.DefaultTimeout, "Timeout for a single AI provider attempt")
	f.Duration("settings-ttl", settings.DefaultTTL, "How long stored settings are cached")
	f.String("prompt-variant", string(prompts.PromptStandard), "Written answer prompt variant (strict, standard, lenient)")
	f.String("admin-password", "", "Admin password for the settings API (or set MOCKBOARD_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import PAPER...",
		Short: "Create exam sessions from paper files (JSON or YAML)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "mockboard.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate SESSION_ID",
		Short: "Evaluate a session and print its result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	addEngineFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "mockboard.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MOCKBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mockboard")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mockboard")
	v.AddConfigPath("/etc/mockboard")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// engine is the evaluation stack shared by serve and evaluate.
type engine struct {
	settings  *settings.Provider
	images    *storage.FSStore
	evaluator *evaluator.Evaluator
}

func newEngine(v *viper.Viper, db *store.Store) (*engine, error) {
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}

	defaults := map[string]string{
		settings.KeyOpenRouterAPIKey: v.GetString("openrouter-key"),
		settings.KeyGeminiAPIKey:     v.GetString("gemini-key"),
		settings.KeyAIProvider:       v.GetString("ai-provider"),
		settings.KeyPromptVariant:    promptVariant,
	}
	if pw := v.GetString("admin-password"); pw != "" {
		hash, err := settings.HashPassword(pw)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		defaults[settings.KeyAdminPassword] = hash
	}
	sp := settings.New(db, defaults, v.GetDuration("settings-ttl"))

	images, err := storage.NewFSStore(v.GetString("data-dir"))
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}

	set, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	cfgs := llm.DefaultProviderConfigs(v.GetString("app-url"))
	for name, flag := range map[llm.ProviderName]string{
		llm.ProviderOpenRouter: "openrouter-model",
		llm.ProviderGemini:     "gemini-model",
	} {
		if m := v.GetString(flag); m != "" {
			cfg := cfgs[name]
			cfg.Model = m
			cfgs[name] = cfg
		}
	}
	gateway := llm.NewGateway(sp, llm.NewFactory(cfgs), v.GetDuration("ai-timeout"))

	ev := evaluator.New(db, images,
		evaluator.NewWrittenScorer(gateway, set, sp),
		evaluator.NewReportGenerator(gateway, set),
	)
	return &engine{settings: sp, images: images, evaluator: ev}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := newEngine(v, db)
	if err != nil {
		return err
	}
	if eng.settings.Get(context.Background(), settings.KeyAdminPassword) == "" {
		slog.Warn("no admin password configured, settings API is open")
	}

	h := handler.New(db, eng.evaluator, eng.settings, eng.images)

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", "X-Admin-Password"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(v.GetDuration("request-timeout")))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"data_dir", v.GetString("data-dir"),
		"lang", lang,
		"ai_provider", v.GetString("ai-provider"),
		"ai_timeout", v.GetDuration("ai-timeout"),
		"request_timeout", v.GetDuration("request-timeout"),
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	for _, path := range args {
		id, err := importPaper(ctx, db, path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

// importPaper creates a session from a paper file. A file imported before is
// not imported again; the session it created is returned instead.
func importPaper(ctx context.Context, db *store.Store, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	hash := store.PaperHash(data)
	existing, err := db.ImportedSession(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("check import status for %s: %w", path, err)
	}
	if existing != "" {
		slog.Info("paper unchanged, skipping", "path", path, "session", existing)
		return existing, nil
	}

	paper, err := model.DecodePaper(path, data)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	sess, questions, err := paper.ToPaper()
	if err != nil {
		return "", fmt.Errorf("invalid paper %s: %w", path, err)
	}
	id, err := db.CreateSession(ctx, sess, questions)
	if err != nil {
		return "", fmt.Errorf("create session from %s: %w", path, err)
	}
	if err := db.RecordImport(ctx, hash, id, path); err != nil {
		return "", fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported paper", "path", path, "session", id, "questions", len(questions))
	return id, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := newEngine(v, db)
	if err != nil {
		return err
	}

	ctx := appI18n.WithLang(context.Background(), v.GetString("lang"))
	result, err := eng.evaluator.EvaluateSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("evaluate session: %w", err)
	}

	questions, err := db.ListQuestions(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Tp(ctx, "QuestionsEvaluated", len(questions)))

	return writeJSON(cmd.OutOrStdout(), result)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllResults(context.Background())
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	export := model.ResultExport{
		ExportedAt: time.Now().UTC(),
		Results:    results,
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
