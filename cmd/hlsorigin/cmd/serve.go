package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jessicalh/rptr/internal/config"
	"github.com/jessicalh/rptr/internal/engine/adapters"
	"github.com/jessicalh/rptr/internal/engine/httporigin"
	"github.com/jessicalh/rptr/internal/engine/playlist"
	"github.com/jessicalh/rptr/internal/engine/segmenter"
	"github.com/jessicalh/rptr/internal/engine/supervisor"
	"github.com/jessicalh/rptr/internal/engine/types"
	"github.com/jessicalh/rptr/internal/logging"
	"github.com/jessicalh/rptr/internal/version"
)

var synthetic bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HLS origin server",
	Long: `Start the origin server: bind the HTTP listener, accept samples from
the capture pipeline, and serve the sliding-window HLS playlist.

With --synthetic, a built-in test-pattern generator feeds the segmenter
instead of a real camera/mic pipeline, for standalone smoke-testing.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("synthetic", false, "feed a synthetic test pattern instead of a real capture pipeline")
	viper.BindPFlag("synthetic", serveCmd.Flags().Lookup("synthetic"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.SetDefault(logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}))
	logger = slog.Default()

	logger.Info("starting origin server", slog.String("version", version.Short()))

	delegate := loggingDelegate{logger: logger}

	baseURL := fmt.Sprintf("http://%s", cfg.Server.Address())
	sup := supervisor.New(supervisor.Config{
		Segmenter: segmenter.Config{
			VideoCodec:      types.ParseVideoCodec(cfg.Stream.VideoCodec),
			SegmentDuration: cfg.Stream.SegmentDuration,
			MinSegment:      cfg.Stream.MinSegment,
			MaxSegment:      cfg.Stream.MaxSegment,
			QueueSize:       cfg.Stream.QueueSize,
		},
		Playlist: playlist.Config{
			TargetDurationS: cfg.Stream.TargetDuration,
			SegmentDuration: cfg.Stream.SegmentDuration,
			Window:          cfg.Stream.WindowSize,
		},
		MaxSegments:     cfg.Stream.MaxSegments,
		PathLength:      cfg.Stream.PathLength,
		MemoryHighWater: cfg.Memory.HighWater.Int64(),
		MemoryCritical:  cfg.Memory.Critical.Int64(),
		PathGraceWindow: cfg.Stream.PathGraceWindow.Duration(),
	}, delegate, func() string { return baseURL })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer sup.Stop()

	server := httporigin.New(httporigin.Config{
		Addr:              cfg.Server.Address(),
		MaxRequestSize:    cfg.Server.MaxRequestSize.Int64(),
		ClientIdleTimeout: cfg.Server.ClientIdleTimeout,
		SweepInterval:     cfg.Server.SweepInterval,
		CORSOrigins:       cfg.Server.CORSOrigins,
	}, sup, delegate, nil, logger)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting http origin: %w", err)
	}
	defer server.Stop()

	go pollMemoryPressure(ctx, sup)

	if viper.GetBool("synthetic") {
		logger.Warn("synthetic test pattern enabled; this is not a real capture feed")
		go runSyntheticGenerator(ctx, sup.Intake(), cfg.Stream.SegmentDuration)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()
	return nil
}

// pollMemoryPressure periodically feeds the process's resident memory
// estimate to the supervisor's eviction policy (spec §4.5).
func pollMemoryPressure(ctx context.Context, sup *supervisor.Supervisor) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var stats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			sup.CheckMemoryPressure(int64(stats.Alloc))
		}
	}
}

// loggingDelegate is the default HostDelegate for standalone operation: it
// logs every lifecycle event and answers /location with an empty object.
type loggingDelegate struct {
	logger *slog.Logger
}

func (d loggingDelegate) ServerStarted(baseURL string) {
	d.logger.Info("server_started", slog.String("url", baseURL))
}

func (d loggingDelegate) ServerStopped() {
	d.logger.Info("server_stopped")
}

func (d loggingDelegate) ClientConnected(addr string) {
	d.logger.Debug("client_connected", slog.String("addr", addr))
}

func (d loggingDelegate) ClientDisconnected(addr string) {
	d.logger.Debug("client_disconnected", slog.String("addr", addr))
}

func (d loggingDelegate) Error(err error) {
	d.logger.Error("engine_error", slog.String("error", err.Error()))
}

func (d loggingDelegate) RequestLocation() ([]byte, error) {
	return []byte("{}"), nil
}

var _ adapters.HostDelegate = loggingDelegate{}
