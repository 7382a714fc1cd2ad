package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/coherence/internal/alert"
	"github.com/dshills/coherence/internal/decay"
	"github.com/dshills/coherence/internal/render"
	"github.com/dshills/coherence/internal/schema"
)

type decayFlags struct {
	calculateFlags
	alertsFile string
	exclude    []string
}

func newDecayCmd(configFile *string) *cobra.Command {
	var f decayFlags
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Compute the severity-decay score of a set of alerts",
		Long: "Scores alerts read from --alerts (an alert array or a calculate result), or the alerts\n" +
			"of a fresh calculation of --snapshot. Alerts listed with --exclude are ignored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.configFile = *configFile
			return runDecay(cmd.Context(), f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.alertsFile, "alerts", "", "JSON file of alerts or of a calculate result")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "alert id to leave out (repeatable)")
	return cmd
}

func runDecay(ctx context.Context, f decayFlags, stdout, stderr io.Writer) error {
	if err := validateFormat(f.format); err != nil {
		return err
	}
	if (f.alertsFile == "") == (f.snapshotFile == "") {
		return badInput(fmt.Errorf("exactly one of --alerts or --snapshot is required"))
	}
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return err
	}
	dc, err := cfg.DecayConfig()
	if err != nil {
		return badInput(err)
	}
	svc, err := decay.New(dc)
	if err != nil {
		return badInput(err)
	}

	var alerts []schema.Alert
	if f.alertsFile != "" {
		if alerts, err = loadAlerts(f.alertsFile); err != nil {
			return badInput(err)
		}
	} else {
		a, calc, err := prepare(f.calculateFlags, stderr)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.flushMetrics()
		res, err := a.calc.Calculate(ctx, calc)
		if err != nil {
			return runtimeErr(err)
		}
		alerts = res.Alerts
	}

	b := svc.Explain(alert.Filter(alerts, f.exclude))
	return writeResult(f.calculateFlags, stdout, b, func() string { return render.DecayMarkdown(b) })
}

// loadAlerts accepts either a JSON array of alerts or an object with an
// "alerts" field, such as the output of calculate.
func loadAlerts(path string) ([]schema.Alert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	data = bytes.TrimSpace(data)
	var alerts []schema.Alert
	if bytes.HasPrefix(data, []byte("[")) {
		err = json.Unmarshal(data, &alerts)
	} else {
		var res schema.CoherenceResult
		err = json.Unmarshal(data, &res)
		alerts = res.Alerts
	}
	if err != nil {
		return nil, fmt.Errorf("decode alerts %s: %w", path, err)
	}
	for i, a := range alerts {
		if errs := alert.Validate(a); len(errs) > 0 {
			return nil, fmt.Errorf("alert[%d] %q: %v", i, a.ID, errs)
		}
	}
	return alerts, nil
}
