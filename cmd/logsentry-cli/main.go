// Command logsentry-cli is the one-command onboarding flow for the
// SDK: it drives the device-authorization handshake against a
// running server and writes the resulting credentials to the local
// credentials file the SDK reads on init (spec §4.I, §6.3).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/logsentry/logsentry/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init", "login":
		os.Exit(runInit(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: logsentry-cli <init|login|status> [flags]")
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	appName := fs.String("app-name", "", "name for the app to register (required)")
	description := fs.String("description", "", "optional app description")
	dsn := fs.String("dsn", sdk.DefaultDSN, "backend base URL")
	timeoutSeconds := fs.Int("timeout-seconds", 300, "seconds to wait for approval")
	noBrowser := fs.Bool("no-browser", false, "do not auto-open the browser")
	configPath := fs.String("config-path", "", "override credentials file path")
	fs.Parse(args)

	if *appName == "" {
		fmt.Fprintln(os.Stderr, "--app-name is required")
		return 1
	}

	base := strings.TrimRight(*dsn, "/")

	start, err := deviceStart(base, *appName, *description)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start login flow: %v\n", err)
		return 1
	}

	verifyURL := start.VerificationURL + "?user_code=" + start.UserCode

	printBanner()
	fmt.Println("Open this URL to login and link your app:")
	fmt.Println(verifyURL)
	fmt.Printf("If prompted, enter code: %s\n", start.UserCode)

	if !*noBrowser {
		_ = openBrowser(verifyURL)
	}

	interval := time.Duration(start.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	deadline := time.Now().Add(time.Duration(*timeoutSeconds) * time.Second)

	for {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "Timed out waiting for approval.")
			return 2
		}

		poll, statusCode, err := devicePoll(base, start.DeviceCode)
		if err != nil {
			time.Sleep(interval)
			continue
		}

		switch {
		case statusCode == http.StatusOK && poll.Status == "ok":
			path, err := sdk.SaveCredentials(sdk.Credentials{
				APIKey:  poll.APIKey,
				DSN:     firstNonEmpty(poll.DSN, base),
				AppID:   poll.AppID,
				AppName: *appName,
			}, *configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to save credentials: %v\n", err)
				return 1
			}
			fmt.Println()
			fmt.Printf("Linked app %q (%s).\n", *appName, poll.AppID)
			fmt.Printf("Credentials saved to %s.\n", path)
			return 0
		case poll.Status == "expired" || poll.Status == "consumed":
			fmt.Fprintln(os.Stderr, "Device code expired or already used. Run init again.")
			return 2
		default:
			time.Sleep(interval)
		}
	}
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config-path", "", "override credentials file path")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		p, err := sdk.DefaultCredentialsPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not resolve default credentials path: %v\n", err)
			return 1
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("No credentials found at %s\n", path)
		return 1
	}

	var creds sdk.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		fmt.Fprintf(os.Stderr, "Could not parse credentials file: %v\n", err)
		return 1
	}

	present := "no"
	if creds.APIKey != "" {
		present = "yes"
	}
	fmt.Printf("App:            %s\n", creds.AppName)
	fmt.Printf("App ID:         %s\n", creds.AppID)
	fmt.Printf("DSN:            %s\n", creds.DSN)
	fmt.Printf("API key present: %s\n", present)
	return 0
}

type deviceStartResponse struct {
	DeviceCode          string `json:"device_code"`
	UserCode            string `json:"user_code"`
	VerificationURL     string `json:"verification_url"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

type devicePollResponse struct {
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
	AppID  string `json:"app_id,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

func deviceStart(dsn, appName, description string) (deviceStartResponse, error) {
	var out deviceStartResponse
	body, _ := json.Marshal(map[string]string{"app_name": appName, "description": description})

	resp, err := http.Post(dsn+"/sdk/device/start", "application/json", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

func devicePoll(dsn, deviceCode string) (devicePollResponse, int, error) {
	var out devicePollResponse

	resp, err := http.Get(dsn + "/sdk/device/poll?device_code=" + deviceCode)
	if err != nil {
		return out, 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, resp.StatusCode, err
	}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &out)
	}
	return out, resp.StatusCode, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func openBrowser(url string) error {
	switch goos() {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func goos() string { return runtime.GOOS }

func printBanner() {
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	fmt.Println(cyan.Render("logsentry-cli"))
}
