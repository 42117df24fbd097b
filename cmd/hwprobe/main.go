// Command hwprobe prints the hardware diagnostics report and, optionally, a
// few rounds of collector readings.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/aiz-dev/hwtelemetry/internal/app"
	"github.com/aiz-dev/hwtelemetry/internal/config"
	"github.com/aiz-dev/hwtelemetry/internal/counters"
	"github.com/aiz-dev/hwtelemetry/internal/diagnostics"
	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/metrics"
	"github.com/aiz-dev/hwtelemetry/internal/nvml"
	"github.com/aiz-dev/hwtelemetry/internal/procscan"
)

type options struct {
	cfg        config.Config
	samples    int
	interval   time.Duration
	top        int
	jsonOutput bool
	logLevel   string
}

func parseFlags(args []string, defaults config.Config) (options, error) {
	opts := options{cfg: defaults}
	fs := pflag.NewFlagSet("hwprobe", pflag.ContinueOnError)
	fs.StringVar(&opts.cfg.SysfsRoot, "sysfs", defaults.SysfsRoot, "path to sysfs root")
	fs.StringVar(&opts.cfg.ProcRoot, "proc", defaults.ProcRoot, "path to procfs root")
	fs.StringVar(&opts.cfg.DiskFilter, "disk", defaults.DiskFilter, "only count disks with this name prefix")
	fs.StringVar(&opts.cfg.NetFilter, "net", defaults.NetFilter, "only count interfaces with this name prefix")
	fs.IntVarP(&opts.samples, "samples", "n", 0, "collector rounds to print after the report")
	fs.DurationVarP(&opts.interval, "interval", "i", defaults.SampleInterval, "delay between rounds")
	fs.IntVarP(&opts.top, "top", "t", defaults.Proc.TopN, "processes to list on the last round, 0 to skip")
	fs.BoolVar(&opts.jsonOutput, "json", false, "emit the diagnostics report as JSON")
	fs.StringVar(&opts.logLevel, "log-level", defaults.LogLevel.String(), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.samples < 0 {
		return options{}, fmt.Errorf("--samples must be >= 0")
	}
	if opts.interval <= 0 {
		return options{}, fmt.Errorf("--interval must be > 0")
	}
	level, err := config.ParseLogLevel(opts.logLevel)
	if err != nil {
		return options{}, err
	}
	opts.cfg.LogLevel = level
	return opts, nil
}

func main() {
	defaults, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hwprobe:", err)
		os.Exit(2)
	}
	opts, err := parseFlags(os.Args[1:], defaults)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hwprobe:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.cfg.LogLevel}))

	report := diagnostics.Collect(diagnostics.DefaultProbes(opts.cfg.SysfsRoot))
	diagnostics.LogBackends(logger, report)

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Error("encode report", "err", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(report.Text())
	}

	if opts.samples == 0 {
		return
	}

	src := counters.NewDefault(opts.cfg.ProcRoot, opts.cfg.SysfsRoot, logger.With("component", "counters"))
	nv := nvml.Default()
	gpus := gputelemetry.NewCached(
		gputelemetry.NewDefault(opts.cfg.SysfsRoot, logger.With("component", "gputelemetry")),
		opts.interval/2,
	)
	collectors := app.Collectors(opts.cfg, src, nv, gpus)

	procLogger := logger.With("component", "procscan")
	procs := procscan.NewSampler(src, procLogger,
		procscan.NewDRMMemory(opts.cfg.ProcRoot, opts.cfg.Proc.MaxFDsPerPID, procLogger),
		procscan.NewNVMLMemory(nv),
	)
	// The first scan only establishes the CPU baseline.
	procs.SampleTop(opts.top)

	for round := 1; round <= opts.samples; round++ {
		time.Sleep(opts.interval)
		fmt.Printf("\nRound %d:\n", round)
		printCollectors(os.Stdout, collectors)
	}

	if opts.top > 0 {
		fmt.Println("\nTop processes:")
		printProcesses(os.Stdout, procs.SampleTop(opts.top))
	}
	for _, g := range gpus.SampleAll() {
		fmt.Printf("GPU %d: %s (%s)\n", g.Index, g.Name, g.Source)
	}
}

func printCollectors(w io.Writer, collectors []metrics.Collector) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range collectors {
		sample, ok := c.Sample()
		if !ok {
			fmt.Fprintf(tw, "  %s\tn/a\t\n", c.Name())
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name(), formatSample(sample), sample.Label)
	}
	_ = tw.Flush()
}

func formatSample(s metrics.Sample) string {
	if s.Warming() {
		return "warming"
	}
	if s.Unit == metrics.UnitMBps {
		return humanize.IBytes(uint64(s.Value*1024*1024)) + "/s"
	}
	return humanize.FormatFloat("#,###.#", s.Value) + " " + s.Unit
}

func printProcesses(w io.Writer, rows []procscan.ProcessInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  PID\tNAME\tCPU\tRAM\tVRAM\t")
	for _, row := range rows {
		vram := "-"
		if row.VRAMBytes != nil {
			vram = humanize.IBytes(*row.VRAMBytes)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%.1f%%\t%s\t%s\t\n",
			row.PID, truncate(row.Name, 24), row.CPUPct, humanize.IBytes(row.RAMBytes), vram)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
