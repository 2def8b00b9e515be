package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ragchat/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Long: `Load or build the index, then serve POST /api/chat, GET /health,
session history, index rebuild and Prometheus metrics until interrupted.

Examples:
  ragchat serve
  ragchat serve --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := newPipeline(cfg, GetRootDir(), log, reg)
	if err != nil {
		return err
	}
	completer, err := newCompleter(cfg.Completion)
	if err != nil {
		return err
	}
	orch, err := p.orchestrator(completer)
	if err != nil {
		return err
	}

	if err := orch.Initialize(ctx); err != nil {
		return err
	}

	srvCfg := cfg.Server
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort > 0 {
		srvCfg.Port = servePort
	}

	srv := server.New(srvCfg, orch, reg, log.Named("http"))
	return srv.Run(ctx)
}
