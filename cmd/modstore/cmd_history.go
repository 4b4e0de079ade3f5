package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/battlewithbytes/modstore/internal/history"
	"github.com/battlewithbytes/modstore/internal/ui"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "number of entries to show (default from config)")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently finished installs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/api/history"
		if historyLimit > 0 {
			path += "?limit=" + strconv.Itoa(historyLimit)
		}
		var resp struct {
			Entries []history.Entry `json:"entries"`
		}
		if err := c.do(cmd.Context(), "GET", path, nil, &resp); err != nil {
			return err
		}
		fmt.Print(ui.RenderHistory(resp.Entries))
		return nil
	},
}
