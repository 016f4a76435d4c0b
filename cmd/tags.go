package main

import (
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/refdata-migrate/internal/auth"
	"github.com/sells-group/refdata-migrate/internal/gateway"
	"github.com/sells-group/refdata-migrate/internal/model"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Fetch the destination location tag definitions",
	Long:  "Fetches the destination's location tags and prints them. The same snapshot is taken at the start of every migration run to validate CSV level headers.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Destination.LocationTagURL == "" {
			return eris.New("destination location tag URL is required (REFDATA_DESTINATION_LOCATION_TAG_URL)")
		}

		gw := gateway.New(gateway.Options{
			Credentials:  auth.NewClient(auth.Config(cfg.Auth)),
			MaxFailures:  cfg.Request.MaxFailures,
			CallTimeout:  cfg.Request.Timeout(),
			ResetTimeout: cfg.Request.ResetTimeout(),
		})

		resp, err := gw.Send(ctx, http.MethodGet, cfg.Destination.LocationTagURL, nil)
		if err != nil {
			return eris.Wrap(err, "fetch location tags")
		}
		if !resp.OK() {
			return eris.Errorf("location tag fetch returned %d", resp.StatusCode)
		}

		var tags []model.LocationTag
		if err := resp.Decode(&tags); err != nil {
			return err
		}

		for _, t := range tags {
			fmt.Printf("%s\t%s\n", t.ID, t.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tagsCmd)
}
