package main

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"text/template"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/plus3/mosaic/ecs"
)

type Report struct {
	// Configuration
	Duration       time.Duration
	Entities       int
	PageSize       int
	Aggressive     bool
	GCPauseMetrics bool

	// Results
	TotalTime     time.Duration
	UpdateTime    Stats
	Spawned       int64
	Died          int64
	Migrated      int64
	Failures      int64
	Scheduler     *ecs.SchedulerStats
	Registry      *ecs.RegistryStats
	Gauges        []Gauge
	MemStatsStart runtime.MemStats
	MemStatsEnd   runtime.MemStats
}

type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P99     time.Duration
	Samples []time.Duration
}

// Gauge is the last value recorded for one metric.
type Gauge struct {
	Name  string
	Value float32
}

func (s *Stats) Finalize() {
	if len(s.Samples) == 0 {
		return
	}

	var total time.Duration
	for _, sample := range s.Samples {
		total += sample
	}
	s.Avg = total / time.Duration(len(s.Samples))

	sorted := slices.Clone(s.Samples)
	slices.Sort(sorted)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P99 = sorted[len(sorted)*99/100]
}

// latestGauges returns the gauges of the most recent metrics interval,
// sorted by name.
func latestGauges(sink *metrics.InmemSink) []Gauge {
	intervals := sink.Data()
	if len(intervals) == 0 {
		return nil
	}
	interval := intervals[len(intervals)-1]
	interval.RLock()
	defer interval.RUnlock()

	gauges := make([]Gauge, 0, len(interval.Gauges))
	for _, g := range interval.Gauges {
		gauges = append(gauges, Gauge{Name: g.Name, Value: g.Value})
	}
	slices.SortFunc(gauges, func(a, b Gauge) int {
		return strings.Compare(a.Name, b.Name)
	})
	return gauges
}

func (r *Report) Generate(w io.Writer) error {
	const reportTemplate = `
# ECS Stress Test Report

## Test Configuration
- **Run Duration:** {{.Duration}}
- **Target Entities:** {{.Entities}}
- **Page Size:** {{if .PageSize}}{{.PageSize}}{{else}}default{{end}}
- **Aggressive Reclaim:** {{.Aggressive}}

## Performance Results
- **Total Frames:** {{.Scheduler.Frames}}
- **Total Test Time:** {{.TotalTime}}
- **Update Time (Frame):**
  - **Avg:** {{.UpdateTime.Avg}}
  - **Min:** {{.UpdateTime.Min}}
  - **Max:** {{.UpdateTime.Max}}
  - **P99:** {{.UpdateTime.P99}}
- **Spawned:** {{.Spawned}}
- **Died:** {{.Died}}
- **Migrated:** {{.Migrated}}
- **Failed Operations:** {{.Failures}}

## Systems
{{range .Scheduler.Systems}}- {{.Name}}: avg {{.AvgDuration}}, max {{.MaxDuration}}, total {{.TotalDuration}}
{{end}}
## Registry
- **Entities:** {{.Registry.TotalEntityCount}}
- **Archetypes:** {{.Registry.ArchetypeCount}}
- **Storage:** {{mb .Registry.MemoryUsageBytes}} MiB
{{range .Registry.ArchetypeBreakdown}}- {{.Signature}} {{.ComponentTypes}}: {{.EntityCount}} entities, stride {{.Stride}}
{{end}}
## Gauges
{{range .Gauges}}- {{.Name}}: {{.Value}}
{{end}}
## Memory Usage (Raw Bytes)
- Heap Alloc:     {{.MemStatsStart.HeapAlloc}} (start) -> {{.MemStatsEnd.HeapAlloc}} (end) -> delta: {{bsub .MemStatsEnd.HeapAlloc .MemStatsStart.HeapAlloc}}
- Total Alloc:    {{.MemStatsStart.TotalAlloc}} (start) -> {{.MemStatsEnd.TotalAlloc}} (end) -> delta: {{bsub .MemStatsEnd.TotalAlloc .MemStatsStart.TotalAlloc}}
- Sys Memory:     {{.MemStatsStart.Sys}} (start) -> {{.MemStatsEnd.Sys}} (end) -> delta: {{bsub .MemStatsEnd.Sys .MemStatsStart.Sys}}
- Num GC:         {{.MemStatsStart.NumGC}} (start) -> {{.MemStatsEnd.NumGC}} (end) -> delta: {{usub .MemStatsEnd.NumGC .MemStatsStart.NumGC}}
{{if .GCPauseMetrics}}
## GC Pause Durations
- **Total GC Pause:** {{.MemStatsEnd.PauseTotalNs | ns}}
- **Num GC Cycles:** {{ usub .MemStatsEnd.NumGC .MemStatsStart.NumGC }}
{{end}}`

	fm := template.FuncMap{
		"mb": func(v int) string {
			return fmt.Sprintf("%.2f", float64(v)/1024/1024)
		},
		"bsub": func(a, b uint64) int64 {
			return int64(a) - int64(b)
		},
		"usub": func(a, b uint32) uint32 {
			return a - b
		},
		"ns": func(ns uint64) string {
			return time.Duration(ns).String()
		},
	}

	tmpl, err := template.New("report").Funcs(fm).Parse(reportTemplate)
	if err != nil {
		return err
	}

	return tmpl.Execute(w, r)
}
