package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/battlewithbytes/modstore/internal/downloads"
	"github.com/battlewithbytes/modstore/internal/protocol"
	"github.com/battlewithbytes/modstore/internal/ui"
)

var downloadsWatch bool

func init() {
	downloadsCmd.Flags().BoolVarP(&downloadsWatch, "watch", "w", false, "keep the list on screen and redraw it on every change")
	rootCmd.AddCommand(downloadsCmd, installCmd, cancelCmd, clearCmd, handleURLCmd)
}

var downloadsCmd = &cobra.Command{
	Use:     "downloads",
	Aliases: []string{"ls"},
	Short:   "Show active and completed downloads",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if downloadsWatch {
			return watchDownloads(cmd.Context(), c)
		}
		var snap downloads.Snapshot
		if err := c.do(cmd.Context(), "GET", "/api/downloads", nil, &snap); err != nil {
			return err
		}
		fmt.Print(ui.RenderSnapshot(snap))
		return nil
	},
}

func watchDownloads(ctx context.Context, c *apiClient) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, c.wsURL("/api/downloads/ws"), nil)
	if err != nil {
		return fmt.Errorf("connecting to download feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	out := termenv.NewOutput(os.Stdout)
	for {
		var snap downloads.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("download feed: %w", err)
		}
		out.ClearScreen()
		fmt.Fprint(out, ui.RenderSnapshot(snap))
		fmt.Fprintln(out, ui.Dim.Render("\nwatching for changes, ctrl-c to quit"))
	}
}

var installCmd = &cobra.Command{
	Use:   "install <url>",
	Short: "Download and install a mod archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := c.do(cmd.Context(), "POST", "/api/downloads", map[string]string{"url": args[0]}, &resp); err != nil {
			return err
		}
		fmt.Println(ui.Green.Render("started") + " " + ui.White.Render(resp.ID))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := c.do(cmd.Context(), "POST", "/api/downloads/"+args[0]+"/cancel", nil, &resp); err != nil {
			return err
		}
		if resp.Cancelled {
			fmt.Println(ui.Yellow.Render("cancelled") + " " + ui.White.Render(args[0]))
		} else {
			fmt.Println(ui.Dim.Render("no running download " + args[0] + "; the backend was asked to stop it anyway"))
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished downloads from the list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Cleared int `json:"cleared"`
		}
		if err := c.do(cmd.Context(), "DELETE", "/api/downloads/completed", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("cleared %d download(s)\n", resp.Cleared)
		return nil
	},
}

var handleURLCmd = &cobra.Command{
	Use:   "handle-url <modstore://install?url=...>",
	Short: "Hand a one-click install link to the running service",
	Long:  "Registered with the desktop as the handler for modstore:// links.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		link, err := protocol.Parse(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			ID        string `json:"id"`
			BackendID string `json:"backend_id"`
		}
		if err := c.do(cmd.Context(), "POST", "/api/protocol", map[string]string{"uri": args[0]}, &resp); err != nil {
			return err
		}
		name := link.Name
		if name == "" {
			name = link.URL
		}
		ref := resp.ID
		if ref == "" {
			ref = resp.BackendID
		}
		fmt.Println(ui.Green.Render("queued") + " " + ui.White.Render(name) + " " + ui.Dim.Render("("+ref+")"))
		return nil
	},
}
