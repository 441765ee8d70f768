package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/micdrop/pitchcoach/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local control server",
	Long: `Start the pitchcoach HTTP server. It accepts uploads for analysis, controls
microphone capture, streams progress as server-sent events and serves the
stored session history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		if host == "" {
			host = cfg.Server.Host
		}
		if port == 0 {
			port = cfg.Server.Port
		}

		svc := newService()
		defer svc.Close()

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		slog.Info("pitchcoach server starting", "addr", addr, "config", cfgFile)

		// Start server (this blocks)
		if err := server.New(svc, addr).Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("host", "", "listen address (default from config)")
	serveCmd.Flags().Int("port", 0, "port for the web server (default from config)")
}
