// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aiz-dev/hwtelemetry/internal/config"
	"github.com/aiz-dev/hwtelemetry/internal/counters"
	"github.com/aiz-dev/hwtelemetry/internal/diagnostics"
	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/httpserver"
	"github.com/aiz-dev/hwtelemetry/internal/metrics"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
	"github.com/aiz-dev/hwtelemetry/internal/sampler"
)

const shutdownTimeout = 10 * time.Second

// Collectors builds the full collector set in display order. Names are
// unique.
func Collectors(cfg config.Config, src counters.Source, nv metrics.NVMLAggregate, gpus metrics.GPUSource) []metrics.Collector {
	return []metrics.Collector{
		metrics.NewCPUUsage(src),
		metrics.NewCPUMaxCore(src),
		metrics.NewRAMUsage(src),
		metrics.NewDiskBandwidth(src, metrics.DiskTotal, cfg.DiskFilter),
		metrics.NewDiskBandwidth(src, metrics.DiskRead, cfg.DiskFilter),
		metrics.NewDiskBandwidth(src, metrics.DiskWrite, cfg.DiskFilter),
		metrics.NewNetworkBandwidth(src, metrics.NetTotal, cfg.NetFilter),
		metrics.NewNetworkBandwidth(src, metrics.NetRx, cfg.NetFilter),
		metrics.NewNetworkBandwidth(src, metrics.NetTx, cfg.NetFilter),
		metrics.NewGPUUsage(nv, gpus),
		metrics.NewGPUMemoryUtil(nv, gpus),
		metrics.NewVRAMUsage(nv, gpus),
		metrics.NewGPUPower(nv, gpus),
		metrics.NewGPUTemperature(nv, gpus),
		metrics.NewPCIeBandwidth(nv, metrics.PCIeTotal),
		metrics.NewPCIeBandwidth(nv, metrics.PCIeRx),
		metrics.NewPCIeBandwidth(nv, metrics.PCIeTx),
	}
}

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	diagnose := sync.OnceValue(func() diagnostics.Report {
		return diagnostics.Collect(diagnostics.DefaultProbes(cfg.SysfsRoot))
	})
	diagnostics.LogBackends(baseLogger, diagnose())

	src := counters.NewDefault(cfg.ProcRoot, cfg.SysfsRoot, baseLogger.With("component", "counters"))
	nv := nvml.Default()
	agg := gputelemetry.NewDefault(cfg.SysfsRoot, baseLogger.With("component", "gputelemetry"))
	appLogger.Info("gpu telemetry ready", "devices", agg.DeviceCount())
	gpus := gputelemetry.NewCached(agg, cfg.SampleInterval/2)

	opts := sampler.Options{
		Interval:         cfg.SampleInterval,
		TimelineCapacity: cfg.TimelineCapacity,
		Collectors:       Collectors(cfg, src, nv, gpus),
		GPUs:             gpus,
	}
	var procs *procscan.Sampler
	if cfg.Proc.Enable {
		procLogger := baseLogger.With("component", "procscan")
		procs = procscan.NewSampler(src, procLogger,
			procscan.NewDRMMemory(cfg.ProcRoot, cfg.Proc.MaxFDsPerPID, procLogger),
			procscan.NewNVMLMemory(nv),
		)
		opts.Processes = procs
		opts.TopN = cfg.Proc.TopN
	}

	samplerManager, err := sampler.NewManager(opts, baseLogger)
	if err != nil {
		return fmt.Errorf("init sampler manager: %w", err)
	}
	defer samplerManager.Close()

	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	samplerErrCh := make(chan error, 1)
	go func() {
		samplerErrCh <- samplerManager.Run(samplerCtx)
	}()

	var lookup httpserver.ProcessLookup
	if procs != nil {
		lookup = procs
	}
	srv := httpserver.New(cfg, baseLogger.With("component", "http"), samplerManager, diagnose, lookup)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		samplerCancel()
		<-samplerErrCh
		return runErr
	case runErr = <-samplerErrCh:
		appLogger.Error("sampler stopped unexpectedly", "err", runErr)
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("sampler: %w", runErr))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}

	samplerCancel()
	if runErr == nil {
		if err := <-samplerErrCh; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("sampler: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	appLogger.Info("shutdown complete")
	return nil
}
