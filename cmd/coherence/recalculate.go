package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/coherence/internal/render"
	"github.com/dshills/coherence/internal/schema"
	"github.com/dshills/coherence/internal/usecase"
)

type recalculateFlags struct {
	calculateFlags
	alertIDs []string
	action   string
	note     string
}

func newRecalculateCmd(configFile *string) *cobra.Command {
	var f recalculateFlags
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Apply an alert action and recalculate the project score",
		Long: "Applies RESOLVED, DISMISSED or ACKNOWLEDGED to the given alerts. RESOLVED and DISMISSED\n" +
			"trigger a recalculation of the snapshot; DISMISSED requires --note.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.configFile = *configFile
			return runRecalculate(cmd.Context(), f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVar(&f.alertIDs, "alert", nil, "alert id (repeatable)")
	cmd.Flags().StringVar(&f.action, "action", "", "RESOLVED, DISMISSED or ACKNOWLEDGED (required)")
	cmd.Flags().StringVar(&f.note, "note", "", "resolution note")
	return cmd
}

func runRecalculate(ctx context.Context, f recalculateFlags, stdout, stderr io.Writer) error {
	if err := validateFormat(f.format); err != nil {
		return err
	}
	action, err := schema.ParseAlertAction(f.action)
	if err != nil {
		return badInput(err)
	}
	a, calc, err := prepare(f.calculateFlags, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.flushMetrics()

	res, err := a.calc.Recalculate(ctx, usecase.RecalculateCommand{
		AlertIDs:       f.alertIDs,
		Action:         action,
		ResolutionNote: f.note,
		Calculate:      calc,
	})
	switch {
	case errors.Is(err, usecase.ErrResolutionNoteRequired), errors.Is(err, usecase.ErrInvalidAction):
		return badInput(err)
	case err != nil:
		return runtimeErr(fmt.Errorf("recalculate: %w", err))
	}
	return writeResult(f.calculateFlags, stdout, res, func() string { return render.RecalculateMarkdown(res) })
}
