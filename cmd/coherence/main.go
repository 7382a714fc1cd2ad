package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitCodeOK        = 0
	exitCodeFailUnder = 2
	exitCodeBadInput  = 3
	exitCodeRuntime   = 4
)

// exitError carries a process exit code alongside the error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func badInput(err error) error   { return &exitError{code: exitCodeBadInput, err: err} }
func runtimeErr(err error) error { return &exitError{code: exitCodeRuntime, err: err} }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "coherence",
		Short:         "Coherence scoring for construction project snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "JSON configuration file (COHERENCE_* environment variables override it)")

	root.AddCommand(
		newCalculateCmd(&configFile),
		newRecalculateCmd(&configFile),
		newDecayCmd(&configFile),
		newRulesCmd(&configFile),
		newHistoryCmd(&configFile),
	)
	return root
}
