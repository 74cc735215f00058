// Package report renders end-of-run connectivity snapshots.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/cluster-patrol-sim/core"
)

// Format selects how a snapshot is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for format names ParseFormat does not know.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat maps a flag value onto a Format. "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FileName is the report file name used when writing into a directory.
func (f Format) FileName() string {
	switch f {
	case FormatJSON:
		return "connectivity.json"
	case FormatYAML:
		return "connectivity.yaml"
	default:
		return "connectivity.txt"
	}
}

// Write renders snap to w in the given format.
func Write(w io.Writer, snap *core.MetricsSnapshot, format Format) error {
	if snap == nil {
		return errors.New("report: nil snapshot")
	}
	switch format {
	case FormatText, "":
		return writeText(w, snap)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeText(w io.Writer, snap *core.MetricsSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if snap.RunID != "" {
		fmt.Fprintf(tw, "Run:\t%s\n", snap.RunID)
	}
	fmt.Fprintf(tw, "Simulated time:\t%s\n", snap.SimTime)
	fmt.Fprintf(tw, "Leader checks:\t%d\n", snap.TotalChecks)
	fmt.Fprintf(tw, "Connected checks:\t%d\n", snap.ConnectedChecks)
	fmt.Fprintf(tw, "Connectivity ratio:\t%.2f%%\n", snap.ConnectivityRatio*100)

	if len(snap.Pairs) > 0 {
		fmt.Fprintln(tw, "Leader pairs:")
		for _, p := range snap.Pairs {
			fmt.Fprintf(tw, "  %s <-> %s\t%d/%d\t%.2f%%\n",
				p.LeaderA, p.LeaderB, p.Connected, snap.TotalChecks, p.Ratio*100)
		}
	}
	return tw.Flush()
}
