package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dshills/coherence/internal/catalog"
	"github.com/dshills/coherence/internal/render"
	"github.com/dshills/coherence/internal/rules"
	"github.com/dshills/coherence/internal/scoring"
)

// ruleRow is one line of `rules list`.
type ruleRow struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Evaluator   string `json:"evaluator"`
	Description string `json:"description"`
}

func newRulesCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule catalogs",
	}

	var format string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the rules of the configured catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg.Engine.CatalogPath)
			if err != nil {
				return badInput(err)
			}
			return writeRules(cmd.OutOrStdout(), format, listRules(cat))
		},
	}
	list.Flags().StringVar(&format, "format", "text", "output format: text or json")

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML rule catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.LoadFile(args[0])
			if err != nil {
				return badInput(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], cat.Len())
			return nil
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}

// listRules describes each catalog rule and the evaluator that serves it.
func listRules(cat *catalog.Catalog) []ruleRow {
	kind := make(map[string]string)
	for _, ev := range rules.Deterministic() {
		kind[ev.RuleID()] = "deterministic"
	}
	for _, id := range rules.QualitativeRuleIDs() {
		kind[id] = "qualitative"
	}
	m := scoring.NewMapper(cat.Rules())
	var rows []ruleRow
	for _, d := range cat.Rules() {
		k := kind[d.ID]
		if k == "" {
			k = "none"
		}
		rows = append(rows, ruleRow{
			ID:          d.ID,
			Category:    string(m.Category(d.ID)),
			Severity:    string(d.Severity),
			Evaluator:   k,
			Description: d.Description,
		})
	}
	return rows
}

func writeRules(w io.Writer, format string, rows []ruleRow) error {
	switch strings.ToLower(format) {
	case "json":
		b, err := render.JSON(rows)
		if err != nil {
			return runtimeErr(err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "text":
		data := make([][]string, 0, len(rows))
		for _, r := range rows {
			data = append(data, []string{r.ID, r.Category, r.Severity, r.Evaluator, r.Description})
		}
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Category", "Severity", "Evaluator", "Description")
		if err := table.Bulk(data); err != nil {
			return runtimeErr(err)
		}
		return table.Render()
	}
	return badInput(fmt.Errorf("unknown format %q (want text or json)", format))
}
