// Package sysmon periodically publishes system.stats events describing the
// gateway process.
package sysmon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/publish"
)

type Reading struct {
	Host       event.Host
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
}

type Reader interface {
	Read(ctx context.Context) (Reading, error)
}

// ProcessReader reads the current process through gopsutil.
type ProcessReader struct {
	proc *process.Process
}

func NewProcessReader() (*ProcessReader, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	return &ProcessReader{proc: p}, nil
}

func (r *ProcessReader) Read(ctx context.Context) (Reading, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("host info: %w", err)
	}
	// Zero interval measures against the previous call.
	cpu, err := r.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Reading{}, fmt.Errorf("cpu percent: %w", err)
	}
	mem, err := r.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("memory info: %w", err)
	}
	return Reading{
		Host: event.Host{
			Name:     info.Hostname,
			OS:       info.OS,
			Platform: info.Platform,
			Uptime:   info.Uptime,
		},
		CPUPercent: cpu,
		RSSBytes:   mem.RSS,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}

// Counts reports gateway load alongside the process readings.
type Counts struct {
	Connections int `json:"connections"`
	Listeners   int `json:"listeners"`
}

// Stats is the data payload of a system.stats event.
type Stats struct {
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Goroutines int     `json:"goroutines"`
	Counts
}

type Monitor struct {
	reader    Reader
	publisher publish.Publisher
	interval  time.Duration
	counts    func() Counts
	logger    *slog.Logger
}

// New builds a monitor. counts may be nil.
func New(reader Reader, publisher publish.Publisher, interval time.Duration, counts func() Counts, logger *slog.Logger) *Monitor {
	return &Monitor{reader: reader, publisher: publisher, interval: interval, counts: counts, logger: logger}
}

// Start publishes a reading immediately and then every interval until ctx
// is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("system monitor started", "interval", m.interval)
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("system monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if err := m.publishReading(ctx); err != nil {
		m.logger.Warn("skip system stats", "error", err)
	}
}

func (m *Monitor) publishReading(ctx context.Context) error {
	r, err := m.reader.Read(ctx)
	if err != nil {
		return err
	}

	stats := Stats{CPUPercent: r.CPUPercent, RSSBytes: r.RSSBytes, Goroutines: r.Goroutines}
	if m.counts != nil {
		stats.Counts = m.counts()
	}

	source, err := json.Marshal(r.Host)
	if err != nil {
		return fmt.Errorf("encode host: %w", err)
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	return m.publisher.Publish(ctx, publish.Envelope{
		Type:   event.KindSystemStats,
		Params: map[string]any{"host": r.Host.Name, "cpuPercent": r.CPUPercent},
		Source: source,
		Data:   data,
	})
}
