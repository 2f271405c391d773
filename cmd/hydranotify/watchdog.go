package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func runWatchdog(args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("watchdog", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api", "http://localhost:8080", "hydranotify daemon API URL")
	restartCmd := fs.String("restart-cmd", "", "command to run if unhealthy")
	timeout := fs.Duration("timeout", 5*time.Second, "health check timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	url := strings.TrimRight(*apiURL, "/") + "/api/v1/health"
	client := &http.Client{Timeout: *timeout}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return handleUnhealthy(*restartCmd, stderr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check returned status %d\n", resp.StatusCode)
		return handleUnhealthy(*restartCmd, stderr)
	}

	return exitOK
}

func handleUnhealthy(restartCmd string, stderr io.Writer) int {
	if restartCmd == "" {
		return exitFailure
	}

	fmt.Fprintf(stderr, "attempting restart: %s\n", restartCmd)
	cmd := exec.Command("sh", "-c", restartCmd)
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(stderr, "restart command failed: %v\n", err)
		return exitFailure
	}
	return exitOK
}
