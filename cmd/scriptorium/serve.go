package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptorium/internal/queue"
	"github.com/jackzampolin/scriptorium/internal/server"
	"github.com/jackzampolin/scriptorium/internal/server/endpoints"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Scriptorium server",
	Long: `Start the Scriptorium HTTP server and download queue.

The queue is restored from the configured store on startup. When
store.managed is set, the redis or postgres store is started in a Docker
container first. Shutting down (Ctrl+C or SIGTERM) pauses the active
download so it resumes on the next start.

The server provides:
  - /health            - Basic server health check
  - /status            - Queue, store and stream status
  - /api/queue/...     - Queue management
  - /api/queue/stream  - Websocket feed of queue state
  - /swagger           - API documentation

Examples:
  scriptorium serve                    # Start on the configured port
  scriptorium serve --port 3000        # Start on custom port
  scriptorium serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfgMgr, logger, h, err := setup()
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()

		st, mgr, err := openStore(ctx, cfg.Store, h, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if mgr != nil {
			defer mgr.Close()
		}

		publisher, err := newPublisher(ctx, cfg.Export)
		if err != nil {
			return err
		}

		settings := queue.GlobalSettings{
			AutoStart:           cfg.Queue.AutoStart,
			ConcurrentDownloads: cfg.Queue.ConcurrentDownloads,
			PauseBetweenItems:   cfg.Queue.PauseBetweenItems,
		}
		q, err := queue.New(ctx, queue.Config{
			Store:        st,
			Resolver:     newResolver(cfg.Fetch, logger),
			Downloader:   newFetcher(cfg.Fetch, h, logger),
			Publisher:    publisher,
			OutputPath:   h.OutputPath,
			Settings:     &settings,
			IdlePoll:     cfg.Queue.IdlePoll(),
			JobTimeout:   cfg.Queue.JobTimeout(),
			ResolveOnAdd: cfg.Queue.ResolveOnAdd,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:            host,
			Port:            port,
			Queue:           q,
			ConfigManager:   cfgMgr,
			Home:            h,
			StoreBackend:    cfg.Store.Backend,
			Container:       mgr,
			SwaggerSpecPath: endpoints.SwaggerSpecPath(),
			Logger:          logger,
		})
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			q.Close(closeCtx)
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
