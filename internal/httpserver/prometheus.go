package httpserver

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aiz-dev/hwtelemetry/internal/gputelemetry"
	"github.com/aiz-dev/hwtelemetry/internal/sampler"
)

const metricsNamespace = "hwtelemetry"

type snapshotSource interface {
	Latest() (sampler.Snapshot, bool)
}

// snapshotCollector exports the latest sampler snapshot. Nothing is sampled
// at scrape time.
type snapshotCollector struct {
	source    snapshotSource
	collector *prometheus.Desc
	age       *prometheus.Desc
	gpus      []gpuMetric
}

type gpuMetric struct {
	desc    *prometheus.Desc
	extract func(t gputelemetry.Telemetry) (float64, bool)
}

func newSnapshotCollector(source snapshotSource) prometheus.Collector {
	gpuDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "gpu", name),
			help,
			[]string{"index", "name", "vendor", "source"},
			nil,
		)
	}
	fromFloat := func(get func(t gputelemetry.Telemetry) *float64) func(gputelemetry.Telemetry) (float64, bool) {
		return func(t gputelemetry.Telemetry) (float64, bool) {
			if p := get(t); p != nil {
				return *p, true
			}
			return 0, false
		}
	}
	fromClock := func(get func(t gputelemetry.Telemetry) *uint32) func(gputelemetry.Telemetry) (float64, bool) {
		return func(t gputelemetry.Telemetry) (float64, bool) {
			if p := get(t); p != nil {
				return float64(*p), true
			}
			return 0, false
		}
	}

	return &snapshotCollector{
		source: source,
		collector: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "collector", "value"),
			"Latest reading of each rate collector. Warming collectors are omitted.",
			[]string{"collector", "unit"},
			nil,
		),
		age: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "snapshot", "age_seconds"),
			"Seconds since the latest snapshot was taken.",
			nil,
			nil,
		),
		gpus: []gpuMetric{
			{
				desc:    gpuDesc("utilization_percent", "Current GPU engine utilization."),
				extract: fromFloat(func(t gputelemetry.Telemetry) *float64 { return t.UtilPct }),
			},
			{
				desc:    gpuDesc("vram_used_gib", "Device memory in use."),
				extract: fromFloat(func(t gputelemetry.Telemetry) *float64 { return t.VRAMUsedGiB }),
			},
			{
				desc:    gpuDesc("vram_total_gib", "Total device memory."),
				extract: fromFloat(func(t gputelemetry.Telemetry) *float64 { return t.VRAMTotalGiB }),
			},
			{
				desc:    gpuDesc("power_watts", "Current board power draw."),
				extract: fromFloat(func(t gputelemetry.Telemetry) *float64 { return t.PowerWatts }),
			},
			{
				desc:    gpuDesc("temperature_celsius", "Current GPU temperature."),
				extract: fromFloat(func(t gputelemetry.Telemetry) *float64 { return t.TempC }),
			},
			{
				desc:    gpuDesc("clock_mhz", "Current graphics clock."),
				extract: fromClock(func(t gputelemetry.Telemetry) *uint32 { return t.GPUClockMHz }),
			},
			{
				desc:    gpuDesc("memory_clock_mhz", "Current memory clock."),
				extract: fromClock(func(t gputelemetry.Telemetry) *uint32 { return t.MemClockMHz }),
			},
		},
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.collector
	ch <- c.age
	for _, metric := range c.gpus {
		ch <- metric.desc
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.source.Latest()
	if !ok {
		return
	}

	age := time.Since(snap.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, age)

	for _, m := range snap.Metrics {
		if m.Value == nil || m.Warming {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.collector, prometheus.GaugeValue, *m.Value, m.Name, m.Unit)
	}

	for _, gpu := range snap.GPUs {
		labels := []string{strconv.Itoa(gpu.Index), gpu.Name, gpu.Vendor, gpu.Source}
		for _, metric := range c.gpus {
			value, ok := metric.extract(gpu)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, labels...)
		}
	}
}
