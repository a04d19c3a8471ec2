package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/esd"
	"github.com/banshee-data/coincidence/internal/report"
)

func newReportCommand(g *globals) *cobra.Command {
	var (
		runID    string
		tsv      string
		pngPath  string
		htmlPath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the coincidences of a run",
		Long: `Report prints the size and station multiplicity histograms, the time
spread of the groups and the coincidence rate. It reads a stored run (the
latest by default, or --run) or a TSV file written by search --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadRecords(cmd, g, runID, tsv)
			if err != nil {
				return err
			}
			s := report.Summarise(records)

			if pngPath != "" {
				if err := report.SavePNG(pngPath, s); err != nil {
					return err
				}
			}
			if htmlPath != "" {
				f, err := os.Create(htmlPath)
				if err != nil {
					return err
				}
				if err := report.WriteHTML(f, s); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			return report.WriteText(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default the latest run)")
	cmd.Flags().StringVar(&tsv, "tsv", "", "read coincidences from a TSV file instead")
	cmd.Flags().StringVar(&pngPath, "png", "", "write a size histogram PNG")
	cmd.Flags().StringVar(&htmlPath, "html", "", "write an HTML chart page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func loadRecords(cmd *cobra.Command, g *globals, runID, tsv string) ([]coincidence.Record, error) {
	if tsv != "" {
		f, err := os.Open(tsv)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return esd.ReadCoincidences(f)
	}

	d, err := g.openDB()
	if err != nil {
		return nil, err
	}
	defer d.Close()
	ctx := cmd.Context()
	if runID == "" {
		runs, err := d.Runs(ctx)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, errors.New("no stored runs")
		}
		runID = runs[0].ID
	}
	if _, err := d.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	records, err := d.LoadRecords(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return records, nil
}
