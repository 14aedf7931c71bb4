package commands

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/home-env-monitor/internal/roomenv"
)

func init() {
	rootCmd.AddCommand(todayCmd)

	todayCmd.Flags().Bool("pretty", false, "Indent the JSON output")
}

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print today's series",
	Long:  `Rebuilds the current day's 480 bucket series from the configured store and prints it as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := loadConfig()
		if err != nil {
			return err
		}

		readings, _, closeStore, err := openStore(cfg, l)
		if err != nil {
			return err
		}
		defer closeStore()

		agg := roomenv.NewAggregator(readings, roomenv.SourceNetatmo, cfg.Location, nil, l)
		series, err := agg.RebuildToday(context.Background())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(series)
	},
}
