package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func endpointURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/sse", port)
}

// newStatusCmd pings a running server and reports whether it is up.
func newStatusCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a debug-mcp server is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := fmt.Sprintf("http://127.0.0.1:%d/ping", port)
			client := &http.Client{Timeout: 3 * time.Second}

			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("server not reachable at %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK || string(body) != "pong" {
				return fmt.Errorf("unexpected ping reply: status %d, body %q", resp.StatusCode, body)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "server is up, connect to %s\n", endpointURL(port))
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 4711, "Port the server listens on")
	return cmd
}

// newURLCmd prints the SSE endpoint clients should be configured with.
func newURLCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the SSE endpoint URL clients connect to",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), endpointURL(port))
		},
	}
	cmd.Flags().IntVar(&port, "port", 4711, "Port the server listens on")
	return cmd
}
