package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/trackline-io/trackline/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tracklinectl tickets <list|show|comments>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: tracklinectl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "comments":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: tracklinectl tickets comments <id>")
				os.Exit(1)
			}
			cmdTicketComments(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "branches":
		if len(os.Args) < 4 || os.Args[2] != "list" {
			fmt.Fprintln(os.Stderr, "usage: tracklinectl branches list <ticket-id>")
			os.Exit(1)
		}
		cmdBranchesList(os.Args[3])
	case "report":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tracklinectl report <ticket-id> [branch]")
			os.Exit(1)
		}
		branchName := ""
		if len(os.Args) > 3 {
			branchName = os.Args[3]
		}
		cmdReport(os.Args[2], branchName)
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: tracklinectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- Commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status")
	developer := fs.String("developer", "", "Filter by developer")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *developer != "" {
		query += "&developer=" + *developer
	}

	body, err := apiGet("/api/issues" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var tickets []map[string]any
	json.Unmarshal(body, &tickets)
	for _, t := range tickets {
		fmt.Printf("%-38s %-16s %s\n", t["id"], t["status"], t["summary"])
	}
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/issues/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketComments(id string) {
	body, err := apiGet("/api/ticket-comments/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var comments []map[string]any
	json.Unmarshal(body, &comments)
	for _, c := range comments {
		fmt.Printf("[%s] %s: %s\n", c["created_at"], c["person_name"], c["message"])
	}
}

func cmdBranchesList(ticketID string) {
	body, err := apiGet("/api/bitbucket/get/" + ticketID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var links []map[string]any
	json.Unmarshal(body, &links)
	for _, l := range links {
		fmt.Printf("%-40s %-8s %s\n", l["branch_name"], l["status"], l["branch_url"])
	}
}

func cmdReport(ticketID, branchName string) {
	payload := map[string]string{"ticket_id": ticketID}
	if branchName != "" {
		payload["branch_name"] = branchName
	}
	body, err := apiPost("/api/bitbucket/progress-report", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *level != "" {
		query += "&level=" + *level
	}
	body, err := apiGet("/api/logs" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var entries []map[string]any
	json.Unmarshal(body, &entries)
	for _, e := range entries {
		fmt.Printf("%s %-5s %s\n", e["time"], e["level"], e["message"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return apiDo(http.MethodPost, path, bytes.NewReader(b))
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	base := envOr("TRACKLINE_API_URL", "http://localhost:8080")

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("TRACKLINE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("tracklinectl - trackline management CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                      Check daemon health")
	fmt.Println("  tickets list                List tickets (--status, --developer, --limit)")
	fmt.Println("  tickets show <id>           Show ticket details")
	fmt.Println("  tickets comments <id>       Show ticket comments")
	fmt.Println("  branches list <ticket-id>   List a ticket's branches")
	fmt.Println("  report <ticket-id> [branch] Generate a progress report")
	fmt.Println("  logs                        Show daemon logs (--level, --limit)")
	fmt.Println("  config validate <path>      Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TRACKLINE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  TRACKLINE_API_KEY   API key for authentication")
}
