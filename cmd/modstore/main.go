package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/battlewithbytes/modstore/internal/config"
	"github.com/battlewithbytes/modstore/internal/ui"
	"github.com/battlewithbytes/modstore/internal/version"
)

var (
	configPath string
	apiAddr    string
)

var rootCmd = &cobra.Command{
	Use:           "modstore",
	Short:         "Mod Store: tracks mod downloads and installs for the mod manager",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Long = ui.Green.Render("Mod Store") + " " + ui.Cyan.Render(version.Version) + "\n" +
		ui.Dim.Render("Correlates installer backend events into one download list for the mod manager UI.")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "address of a running modstore service (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Red.Render("error:"), err)
		os.Exit(1)
	}
}
