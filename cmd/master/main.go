// Command master is the dlock coordination master's process entry
// point: it parses the CLI surface from spec.md section 6, wires every
// component, and serves the request multiplexer over gRPC until an
// interrupt or terminate signal arrives.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/eventbus"
	"github.com/Ind1x1/dlock/pkg/jobmanager"
	"github.com/Ind1x1/dlock/pkg/log"
	"github.com/Ind1x1/dlock/pkg/metrics"
	"github.com/Ind1x1/dlock/pkg/multiplexer"
	"github.com/Ind1x1/dlock/pkg/rendezvous"
	"github.com/Ind1x1/dlock/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "master",
	Short:   "dlock master - elastic training job coordinator",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("master version %s (%s)\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.Int("port", 0, "port the multiplexer's gRPC service listens on")
	flags.Int("node_num", 1, "expected node count; also pins the local-platform static world size")
	flags.String("job_name", "", "training job name")
	flags.String("platform", string(config.PlatformLocal), "scaler platform: local, kubernetes, py_kubernetes, ray")
	flags.String("namespace", "default", "scaler namespace")
	flags.String("metrics_addr", ":9090", "address the Prometheus /metrics and health endpoints listen on")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.Flags().GetString("log-level")
	jsonOut, _ := rootCmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// timeNow is the seam newComponents uses to anchor the speed
// aggregator's idle-time trigger.
func timeNow() time.Time {
	return time.Now()
}

func run(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")
	nodeNum, _ := cmd.Flags().GetInt("node_num")
	jobName, _ := cmd.Flags().GetString("job_name")
	platform, _ := cmd.Flags().GetString("platform")
	namespace, _ := cmd.Flags().GetString("namespace")
	metricsAddr, _ := cmd.Flags().GetString("metrics_addr")

	cfg, err := config.New(port, nodeNum, jobName, config.Platform(platform), namespace)
	if err != nil {
		return fmt.Errorf("fatal config error: %w", err)
	}
	if cfg.Platform == config.PlatformLocal && cfg.NodeNum <= 0 {
		return fmt.Errorf("fatal config error: --platform local requires --node_num > 0")
	}
	cfg.ApplyDistributionStrategy(config.DistributionStrategyAllreduce, false)

	logger := log.WithComponent("master")
	logger.Info().
		Str("job_name", cfg.JobName).
		Str("platform", string(cfg.Platform)).
		Str("namespace", cfg.Namespace).
		Int("node_num", cfg.NodeNum).
		Msg("dlock master starting; scale requests would be handed to this platform")

	broker := eventbus.NewBroker()
	broker.Start()
	defer broker.Stop()

	comps := newComponents(cfg, broker)

	mux := multiplexer.New(cfg.WorkerPoolSize)
	RegisterHandlers(mux, comps)

	stopLiveness := startLivenessSweep(comps.jobs, config.DefaultHeartbeatPeriod)
	defer stopLiveness()
	stopRdzvTicks := startRendezvousTicks(comps.training, comps.netcheck, config.DefaultHeartbeatPeriod)
	defer stopRdzvTicks()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("multiplexer", true, "serving")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port()))
	if err != nil {
		return fmt.Errorf("fatal config error: %w", err)
	}
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		cfg.SetPort(tcpAddr.Port)
	}

	srv := transport.NewServer(mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeListener(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fatal transport error: %w", err)
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("dlock master shutting down")
		srv.GracefulStop()
	}
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	return mux
}

func startLivenessSweep(jobs *jobmanager.Facade, period time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				jobs.SweepLiveness()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func startRendezvousTicks(training, netcheck *rendezvous.Manager, period time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				training.Tick()
				netcheck.Tick()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
