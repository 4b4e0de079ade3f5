package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/battlewithbytes/modstore/internal/config"
	"github.com/battlewithbytes/modstore/internal/ui"
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and create the Mod Store configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println(ui.Cyan.Render("Service:"))
		fmt.Println(ui.Dim.Render("  Listen:     ") + ui.White.Render(cfg.Service.Addr()))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Backend:"))
		fmt.Println(ui.Dim.Render("  Socket:     ") + ui.White.Render(cfg.Backend.SocketPath))
		fmt.Println(ui.Dim.Render("  Reconnect:  ") + ui.White.Render(cfg.Backend.ReconnectDelay.String()))
		fmt.Println(ui.Dim.Render("  Timeout:    ") + ui.White.Render(cfg.Backend.RequestTimeout.String()))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Downloads:"))
		fmt.Println(ui.Dim.Render("  Failed kept:    ") + ui.White.Render(cfg.Downloads.FailureRetention.String()))
		fmt.Println(ui.Dim.Render("  Cancelled kept: ") + ui.White.Render(cfg.Downloads.CancelRetention.String()))
		fmt.Println()
		fmt.Println(ui.Cyan.Render("History:"))
		fmt.Println(ui.Dim.Render("  Enabled:    ") + ui.White.Render(fmt.Sprintf("%v", cfg.History.Enabled)))
		if cfg.History.Enabled {
			fmt.Println(ui.Dim.Render("  Database:   ") + ui.White.Render(cfg.History.Path))
			fmt.Println(ui.Dim.Render("  Limit:      ") + ui.White.Render(fmt.Sprintf("%d", cfg.History.Limit)))
		}
		fmt.Println()
		fmt.Println(ui.Cyan.Render("Log:"))
		fmt.Println(ui.Dim.Render("  Level:      ") + ui.White.Render(cfg.Log.Level))
		fmt.Println(ui.Dim.Render("  Output:     ") + ui.White.Render(cfg.Log.Output))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		answers := config.AnswersFrom(cfg)
		if err := config.BuildForm(answers).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println(ui.Dim.Render("aborted, nothing written"))
				return nil
			}
			return err
		}
		if !answers.Confirm {
			fmt.Println(ui.Dim.Render("nothing written"))
			return nil
		}
		if err := answers.Apply(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Println(ui.Green.Render("wrote") + " " + ui.White.Render(configPath))
		return nil
	},
}
