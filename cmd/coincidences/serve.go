package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/coincidence/internal/api"
)

func newServeCommand(g *globals) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `Serve exposes the database read-mostly over HTTP:

  GET    /api/runs                              list runs
  GET    /api/runs/{id}                         run with its summary
  DELETE /api/runs/{id}                         delete a run
  GET    /api/runs/{id}/coincidences            records, ?offset= and ?limit=
  GET    /api/runs/{id}/report.html             chart page
  GET    /api/runs/{id}/sizes.png               size histogram
  GET    /api/stations                          stations with event counts
  GET    /api/stations/{station}/events/{event} coincidences containing an event`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := g.openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			return api.NewServer(d).Start(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "HTTP listen address")
	return cmd
}
