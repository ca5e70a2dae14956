package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/dispatch"
	"github.com/modelrelay/modelrelay/internal/event"
	"github.com/modelrelay/modelrelay/internal/logging"
	"github.com/modelrelay/modelrelay/internal/mcp"
	"github.com/modelrelay/modelrelay/internal/provider"
	"github.com/modelrelay/modelrelay/internal/server"
	"github.com/modelrelay/modelrelay/internal/transport"
)

var (
	servePort int
	serveCORS bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the modelrelay HTTP server",
	Long: `Start modelrelay as an HTTP server exposing the generation API.

POST /v1/generate runs a request (SSE when streaming), GET /v1/channels
lists configured channels and GET /event streams retry events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "Enable CORS")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	store := config.NewStore(configDir, logging.For(logger, "config"))
	if err := store.Watch(); err != nil {
		logger.Warn().Err(err).Msg("config watch unavailable, falling back to reload per lookup")
	}
	defer store.Close()

	client, err := transport.NewClient(store.ProxyURL(), logging.For(logger, "transport"))
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()

	mcpClient := mcp.NewClient(logging.For(logger, "mcp"))
	defer mcpClient.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sc := range store.MCPServers() {
		if err := mcpClient.AddServer(ctx, sc); err != nil {
			logger.Warn().Err(err).Str("server", sc.Name).Msg("mcp server unavailable")
		}
	}

	dispatcher := dispatch.New(
		store,
		provider.DefaultRegistry(),
		dispatch.NewHTTPTransport(client),
		bus,
		logging.For(logger, "dispatch"),
		mcpClient,
	)

	serverCfg := server.DefaultConfig()
	serverCfg.Port = servePort
	serverCfg.EnableCORS = serveCORS
	srv := server.New(serverCfg, store, dispatcher, bus, logging.For(logger, "server"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
