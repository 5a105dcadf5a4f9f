package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/interfaces/http"
	"github.com/chatrelay/chatrelay/internal/providers"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatrelay server",
	Long: `Start the chat API server.

Default: http://127.0.0.1:3000`,
	RunE: runServe,
}

var (
	servePort    int
	serveBind    string
	serveDB      string
	serveVerbose bool
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Listen port")
	serveCmd.Flags().StringVar(&serveBind, "bind", "loopback", "Bind mode: loopback or all")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to the conversation database")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Enable verbose logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Provider keys are commonly kept in a .env next to the binary.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if serveVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("config load warning, using defaults", "error", err)
		cfg = config.Default()
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("bind") {
		cfg.Server.Bind = serveBind
	}
	if cmd.Flags().Changed("db") {
		cfg.Store.Path = serveDB
	}

	slog.Info("starting chatrelay",
		"version", version,
		"port", cfg.Server.Port,
		"bind", cfg.Server.Bind,
		"db", cfg.Store.Path,
	)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := providers.NewRegistry(cfg, logger)
	toolReg := tools.NewRegistry(cfg, logger)
	orch := chat.NewOrchestrator(cfg, registry, toolReg, st, logger)
	server := http.NewServer(cfg, logger, orch, st, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
