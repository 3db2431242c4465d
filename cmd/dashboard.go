package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/urfave/cli/v2"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:    "dashboard",
		Aliases: []string{"d"},
		Usage:   "Watch a running agent's buffers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8080",
				Usage: "Agent HTTP address",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Refresh interval",
			},
		},
		Action: func(c *cli.Context) error {
			client := NewStatsClient(c.String("addr"))
			return runDashboard(c.Context, client, c.Duration("interval"))
		},
	}
}

// StatsClient polls the agent's stats endpoint.
type StatsClient struct {
	url    string
	client *http.Client
}

func NewStatsClient(addr string) *StatsClient {
	client := cleanhttp.DefaultClient()
	client.Timeout = 3 * time.Second
	return &StatsClient{
		url:    strings.TrimRight(addr, "/") + "/v1/stats",
		client: client,
	}
}

func (s *StatsClient) Fetch(ctx context.Context) (model.PipelineStats, error) {
	var stats model.PipelineStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return stats, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("stats: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("stats: decode: %w", err)
	}
	return stats, nil
}

type dashboard struct {
	header *widgets.Paragraph
	gauges *widgets.Table
}

func runDashboard(ctx context.Context, client *StatsClient, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("dashboard: init terminal: %w", err)
	}
	defer ui.Close()

	d := &dashboard{
		header: widgets.NewParagraph(),
		gauges: widgets.NewTable(),
	}
	d.header.Title = " " + ServiceName + " "
	d.gauges.Title = " destinations "
	d.gauges.RowSeparator = false

	refresh := func() {
		stats, err := client.Fetch(ctx)
		d.render(stats, err)
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func (d *dashboard) render(stats model.PipelineStats, err error) {
	w, _ := ui.TerminalDimensions()

	d.header.SetRect(0, 0, w, 4)
	if err != nil {
		d.header.Text = fmt.Sprintf("[%v](fg:red)\npress q to quit", err)
		ui.Render(d.header)
		return
	}
	d.header.Text = fmt.Sprintf("strategy: %s   tracked: %t   uptime: %s\npress q to quit",
		stats.Strategy, stats.Tracked, stats.Uptime.Truncate(time.Second))

	rows := [][]string{{"destination", "items", "fill", "bytes", "flushes", "flushed", "oversized", "dropped"}}
	for _, ds := range stats.Destinations {
		rows = append(rows, []string{
			ds.Name,
			fmt.Sprintf("%d/%d", ds.Items, ds.MaxCount),
			fillBar(ds.Bytes, ds.BytesLimit, 20),
			fmt.Sprintf("%d/%d", ds.Bytes, ds.BytesLimit),
			fmt.Sprint(ds.Flushes),
			fmt.Sprint(ds.FlushedItems),
			fmt.Sprint(ds.Oversized),
			fmt.Sprint(ds.Dropped),
		})
	}
	d.gauges.Rows = rows
	d.gauges.SetRect(0, 4, w, 6+2*len(rows))

	ui.Render(d.header, d.gauges)
}

// fillBar renders n/limit as a fixed-width bar.
func fillBar(n, limit, width int) string {
	if limit <= 0 || n <= 0 {
		return strings.Repeat("░", width)
	}
	filled := n * width / limit
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
