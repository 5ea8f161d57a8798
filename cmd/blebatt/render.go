package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/srg/blebatt/internal/battery"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/lifecycle"
	"github.com/srg/blebatt/internal/registry"
	"github.com/srg/blebatt/pkg/config"
	"golang.org/x/term"
)

const (
	noDevicesMessage      = "No connected devices with battery service found."
	noPeripheralsMessage  = "No connectable peripherals with battery service found."
	readingPlaceholder    = "Reading battery level..."
	lowBatteryThreshold   = 20
	healthyBatteryMinimum = 50
)

// renderer writes snapshots and scan results in the configured format.
type renderer struct {
	out    io.Writer
	format string
	clear  bool // redraw in place on a terminal

	good, warn, low, dim *color.Color
}

func newRenderer(out io.Writer, cfg *config.Config) *renderer {
	tty := isTerminal(out)
	colored := cfg.Color == config.ColorAlways || (cfg.Color == config.ColorAuto && tty)

	paint := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}

	return &renderer{
		out:    out,
		format: cfg.OutputFormat,
		clear:  tty && cfg.OutputFormat == config.FormatTable,
		good:   paint(color.FgGreen),
		warn:   paint(color.FgYellow),
		low:    paint(color.FgRed, color.Bold),
		dim:    paint(color.Faint),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Snapshot renders the device list: a table redrawn in place, or one JSON object per line.
func (r *renderer) Snapshot(s registry.Snapshot) error {
	if r.format == config.FormatJSON {
		return json.NewEncoder(r.out).Encode(s)
	}

	if r.clear {
		fmt.Fprint(r.out, "\033[2J\033[H")
	}
	if s.Len() == 0 {
		_, err := fmt.Fprintln(r.out, noDevicesMessage)
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tBATTERY\tHISTORY")
	for _, d := range s.Devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncate(d.DisplayName, 24), d.State, r.level(d), r.history(d))
	}
	return w.Flush()
}

func (r *renderer) level(d registry.DeviceSnapshot) string {
	latest, ok := d.Latest()
	if !ok {
		if d.State == lifecycle.Subscribed {
			return r.dim.Sprint(readingPlaceholder)
		}
		return r.dim.Sprint("-")
	}
	return r.paintLevel(latest)
}

func (r *renderer) paintLevel(reading battery.Reading) string {
	switch {
	case reading.Level < lowBatteryThreshold:
		return r.low.Sprint(reading)
	case reading.Level < healthyBatteryMinimum:
		return r.warn.Sprint(reading)
	default:
		return r.good.Sprint(reading)
	}
}

func (r *renderer) history(d registry.DeviceSnapshot) string {
	if d.Label == "" {
		return ""
	}
	return r.dim.Sprint(d.Label)
}

// Peripherals renders a one-shot scan result.
func (r *renderer) Peripherals(ps []device.Peripheral) error {
	if r.format == config.FormatJSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		if ps == nil {
			ps = []device.Peripheral{}
		}
		return enc.Encode(ps)
	}

	if len(ps) == 0 {
		_, err := fmt.Fprintln(r.out, noPeripheralsMessage)
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRSSI")
	for _, p := range ps {
		rssi := "-"
		if p.RSSI != 0 {
			rssi = fmt.Sprintf("%d dBm", p.RSSI)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", truncate(p.DisplayName(), 24), p.ID, rssi)
	}
	return w.Flush()
}

// truncate shortens s to max runes, ending in "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
