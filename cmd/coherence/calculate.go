package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coherence/internal/history"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/render"
	"github.com/dshills/coherence/internal/schema"
	"github.com/dshills/coherence/internal/usecase"
)

// calculateFlags are shared by calculate, recalculate and decay.
type calculateFlags struct {
	configFile   string
	snapshotFile string
	userID       string
	eventsFile   string
	now          string
	format       string
	out          string
	refresh      bool
	failUnder    int
}

func (f *calculateFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.snapshotFile, "snapshot", "", "project snapshot JSON file (required)")
	fs.StringVar(&f.userID, "user", "", "user whose recent events are checked for gaming")
	fs.StringVar(&f.eventsFile, "events", "", "JSON file of user events, replacing the configured history store")
	fs.StringVar(&f.now, "now", "", "evaluation time, RFC 3339 (default current time)")
	fs.StringVar(&f.format, "format", "json", "output format: json or markdown")
	fs.StringVarP(&f.out, "out", "o", "-", "output file, - for stdout")
}

func newCalculateCmd(configFile *string) *cobra.Command {
	var f calculateFlags
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Score a project snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.configFile = *configFile
			return runCalculate(cmd.Context(), f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "bypass the result cache")
	cmd.Flags().IntVar(&f.failUnder, "fail-under", 0, "exit with code 2 when the global score is below this value")
	return cmd
}

func runCalculate(ctx context.Context, f calculateFlags, stdout, stderr io.Writer) error {
	if err := validateFormat(f.format); err != nil {
		return err
	}
	a, cmd, err := prepare(f, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.flushMetrics()

	res, err := a.calc.Calculate(ctx, cmd)
	if err != nil {
		return runtimeErr(err)
	}
	if err := writeResult(f, stdout, res, func() string { return render.Markdown(res) }); err != nil {
		return err
	}
	if f.failUnder > 0 && res.GlobalScore < f.failUnder {
		return &exitError{
			code: exitCodeFailUnder,
			err:  fmt.Errorf("global score %d is below %d", res.GlobalScore, f.failUnder),
		}
	}
	return nil
}

// prepare loads configuration and inputs and wires the app.
func prepare(f calculateFlags, stderr io.Writer) (*app, usecase.CalculateCommand, error) {
	var cmd usecase.CalculateCommand
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return nil, cmd, err
	}
	if f.snapshotFile == "" {
		return nil, cmd, badInput(fmt.Errorf("--snapshot is required"))
	}
	snap, err := project.LoadFile(f.snapshotFile)
	if err != nil {
		return nil, cmd, badInput(err)
	}

	var now time.Time
	if f.now != "" {
		if now, err = time.Parse(time.RFC3339, f.now); err != nil {
			return nil, cmd, badInput(fmt.Errorf("--now: %w", err))
		}
	}

	var src history.Source
	if f.eventsFile != "" {
		if f.userID == "" {
			return nil, cmd, badInput(fmt.Errorf("--events requires --user"))
		}
		evs, err := loadEvents(f.eventsFile)
		if err != nil {
			return nil, cmd, badInput(err)
		}
		src = history.Static{f.userID: evs}
	}

	a, err := newApp(cfg, stderr, src)
	if err != nil {
		return nil, cmd, err
	}
	cmd = usecase.CalculateCommand{
		Snapshot: snap,
		Weights:  a.weights,
		UserID:   f.userID,
		Now:      now,
		Refresh:  f.refresh,
	}
	return a, cmd, nil
}

func loadEvents(path string) ([]schema.UserEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var evs []schema.UserEvent
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, fmt.Errorf("decode events %s: %w", path, err)
	}
	return evs, nil
}

func validateFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "markdown", "md":
		return nil
	}
	return badInput(fmt.Errorf("unknown format %q (want json or markdown)", format))
}

// writeResult renders v as JSON, or via markdown for the markdown format.
func writeResult(f calculateFlags, stdout io.Writer, v any, markdown func() string) error {
	w, err := openOutput(f.out, stdout)
	if err != nil {
		return runtimeErr(err)
	}
	defer w.Close()

	var out []byte
	if strings.EqualFold(f.format, "json") {
		if out, err = render.JSON(v); err != nil {
			return runtimeErr(err)
		}
		out = append(out, '\n')
	} else {
		out = []byte(markdown())
	}
	if _, err := w.Write(out); err != nil {
		return runtimeErr(fmt.Errorf("write output: %w", err))
	}
	return nil
}
