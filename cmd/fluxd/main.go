// Command fluxd is the broker-core daemon: it listens for peer
// connections on local:// and/or tcp://, drives a single reactor over
// all of them, hosts the heartbeat service, and exposes Prometheus
// metrics over HTTP.
//
// The CLI skeleton (persistent flags, ldflags version vars,
// cobra.OnInitialize logging hookup) follows cuemby-warren/cmd/warren's
// root command; fluxd is a single-role daemon rather than a multi-role
// CLI, so it hangs its configuration on the root command's RunE instead
// of a forest of subcommands.
package main

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flux-framework/flux-core-sub021/pkg/dispatch"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/handle/fdconn"
	"github.com/flux-framework/flux-core-sub021/pkg/handle/localconn"
	"github.com/flux-framework/flux-core-sub021/pkg/handle/tcpconn"
	"github.com/flux-framework/flux-core-sub021/pkg/heartbeat"
	"github.com/flux-framework/flux-core-sub021/pkg/log"
	"github.com/flux-framework/flux-core-sub021/pkg/metrics"
	"github.com/flux-framework/flux-core-sub021/pkg/reactor"
	"github.com/flux-framework/flux-core-sub021/pkg/tracing"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fluxd",
	Short: "fluxd - Flux broker core daemon",
	Long: `fluxd hosts the message fabric a Flux instance runs on: the
reactor-driven dispatch loop, the heartbeat service, and the transport
connectors peers attach to. It does not schedule jobs or store state —
those are separate modules layered on top of the fabric this process
provides.`,
	Version: Version,
	RunE:    runBroker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fluxd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().Uint32("rank", 0, "This broker's rank (rank 0 publishes heartbeat.pulse)")
	rootCmd.Flags().String("local-dir", "", "Directory to host the local:// UNIX socket in (disabled if empty)")
	rootCmd.Flags().String("tcp-listen", "", "host:port to accept tcp:// connections on (disabled if empty)")
	rootCmd.Flags().Duration("heartbeat-period", heartbeat.DefaultPeriod, "Heartbeat publish period on rank 0")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics on")
	rootCmd.Flags().Bool("enable-pprof", false, "Serve net/http/pprof endpoints alongside /metrics")
	rootCmd.Flags().Bool("trace", false, "Enable OpenTelemetry span export for dispatched messages")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runBroker(cmd *cobra.Command, _ []string) error {
	rank, _ := cmd.Flags().GetUint32("rank")
	localDir, _ := cmd.Flags().GetString("local-dir")
	tcpListen, _ := cmd.Flags().GetString("tcp-listen")
	heartbeatPeriod, _ := cmd.Flags().GetDuration("heartbeat-period")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	traceEnabled, _ := cmd.Flags().GetBool("trace")

	logger := log.WithComponent("fluxd")
	logger.Info().Uint32("rank", rank).Msg("starting fluxd")

	tracer, err := tracing.NewProvider(tracing.Config{Enabled: traceEnabled, ServiceName: "fluxd"})
	if err != nil {
		return fmt.Errorf("fluxd: build tracing provider: %w", err)
	}
	defer tracer.Shutdown(cmd.Context())

	r := reactor.New()

	var listeners []net.Listener
	if localDir != "" {
		ln, err := localconn.Listen(localDir, int(rank))
		if err != nil {
			return fmt.Errorf("fluxd: listen local %s: %w", localDir, err)
		}
		listeners = append(listeners, ln)
		logger.Info().Str("path", ln.Addr().String()).Msg("accepting local:// connections")
	}
	if tcpListen != "" {
		ln, err := tcpconn.Listen(tcpListen)
		if err != nil {
			return fmt.Errorf("fluxd: listen tcp %s: %w", tcpListen, err)
		}
		listeners = append(listeners, ln)
		logger.Info().Str("addr", ln.Addr().String()).Msg("accepting tcp:// connections")
	}
	for _, ln := range listeners {
		go acceptLoop(ln, r, rank, heartbeatPeriod, tracer, traceEnabled, logger)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if pprofEnabled {
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			logger.Info().Str("addr", metricsAddr).Msg("pprof endpoints enabled under /debug/pprof")
		}
		logger.Info().Str("addr", metricsAddr).Msg("serving /metrics")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	r.AddSignal(func(rr *reactor.Reactor, _ *reactor.SignalWatcher, sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		rr.Stop()
	}, syscall.SIGINT, syscall.SIGTERM)

	if len(listeners) == 0 {
		logger.Warn().Msg("no listeners configured (pass --local-dir or --tcp-listen); running idle until signaled")
	}

	code := r.Run(0)
	for _, ln := range listeners {
		_ = ln.Close()
	}
	if code != 0 {
		return fmt.Errorf("fluxd: reactor exited with code %d", code)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// acceptLoop accepts connections off ln forever, wrapping each one in its
// own Handle/Dispatcher pair and registering it with the shared reactor.
// Every accepted peer gets its own heartbeat responder because the
// message fabric here doesn't multiplex many peers behind one handle —
// each connection IS a handle, per the handle-layer design.
func acceptLoop(ln net.Listener, r *reactor.Reactor, rank uint32, period time.Duration, tracer *tracing.Provider, traceEnabled bool, logger zerolog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Error().Err(err).Str("listener", ln.Addr().String()).Msg("accept failed, stopping this listener")
			return
		}

		name := ln.Addr().Network() + ":" + conn.RemoteAddr().String()
		fc, err := fdconn.NewWithHandshake(name, conn)
		if err != nil {
			logger.Warn().Err(err).Str("peer", name).Msg("handshake failed")
			_ = conn.Close()
			continue
		}

		h := handle.New(fc)
		h.SetTrace(traceEnabled)
		d := dispatch.New(h)
		mw, err := r.AddMessage(h, d)
		if err != nil {
			logger.Error().Err(err).Str("peer", name).Msg("failed to register message watcher")
			_ = h.Close()
			continue
		}
		mw.SetTracer(tracer)

		hb := heartbeat.Start(h, d, r, rank, period)
		h.AuxSet("heartbeat", hb)
		logger.Info().Str("peer", name).Msg("peer connected")
	}
}
