// Command healthcheck probes the /healthz endpoint of a running
// chat-downloader metrics listener. It reads the listen address from
// METRICS_ADDR, the same variable the downloader serves on, and exits
// non-zero when the endpoint is unreachable or unhealthy. Intended as a
// container HEALTHCHECK for long-running captures.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		os.Exit(1)
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != 200 {
		os.Exit(1)
	}
}
