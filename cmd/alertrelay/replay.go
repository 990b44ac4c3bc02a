package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-alert-relay/internal/config"
	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
)

func newReplayCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Process a JSON array of webhook payloads and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)

			alerts, err := loadAlerts(file)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, observability.NewMetrics(), logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // process is exiting

			sum := a.proc.ProcessBatch(cmd.Context(), alerts)
			return printSummary(cmd, sum)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding an array of alert payloads")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// loadAlerts decodes payloads without validating them; invalid alerts are
// counted as failures by the batch run.
func loadAlerts(path string) ([]domain.Alert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var raws []domain.RawAlert
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode replay file %s: %w", path, err)
	}
	alerts := make([]domain.Alert, len(raws))
	for i, raw := range raws {
		alerts[i] = raw.ToAlert()
	}
	return alerts, nil
}

type replayLine struct {
	AlertID string           `json:"alertId"`
	Status  processor.Status `json:"status"`
	Error   string           `json:"error,omitempty"`
}

type replaySummary struct {
	Total     int          `json:"total"`
	Published int          `json:"published"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Alerts    []replayLine `json:"alerts"`
}

func printSummary(cmd *cobra.Command, sum processor.BatchSummary) error {
	out := replaySummary{
		Total:     sum.Total,
		Published: sum.Published,
		Skipped:   sum.Skipped,
		Failed:    sum.Failed,
		Alerts:    make([]replayLine, 0, len(sum.Outcomes)),
	}
	for _, o := range sum.Outcomes {
		line := replayLine{AlertID: o.AlertID, Status: o.Status}
		if o.Err != nil {
			line.Error = o.Err.Error()
		}
		out.Alerts = append(out.Alerts, line)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
