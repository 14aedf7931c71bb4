package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BinaryName is the name of the executable.
const BinaryName = "home-env-monitor"

var rootCmd = &cobra.Command{
	Use:   BinaryName,
	Short: "Home environment monitor",
	Long: `Polls a Netatmo weather station every minute, stores each reading and
publishes the current day's series in 3 minute buckets.`,
}

func init() {
	viper.SetEnvPrefix("HOMEENV")
	viper.AutomaticEnv()
	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
}

// Execute is the main entry point for our cobra commands
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
