// licpanel-cli drives a running licpanel-gateway from the terminal:
// list pending requests, approve or reject a device, force a ledger sync.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "pending":
		return handlePending(args[2:], stdout, stderr)
	case "approve":
		return handleApprove(args[2:], stdout, stderr)
	case "reject":
		return handleReject(args[2:], stdout, stderr)
	case "sync":
		return handleSync(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: licpanel-cli <pending|approve|reject|sync> [flags]")
	fmt.Fprintln(w, "  pending                     list pending activation requests")
	fmt.Fprintln(w, "  approve <machine_code>      approve a request (-hours N)")
	fmt.Fprintln(w, "  reject <machine_code>       reject a request (-reason S)")
	fmt.Fprintln(w, "  sync                        force a ledger resync")
}

type requestRow struct {
	MachineCode  string `json:"machine_code"`
	RequestTime  string `json:"request_time"`
	ComputerName string `json:"computer_name"`
	Username     string `json:"username"`
	System       string `json:"system"`
}

type listEnvelope struct {
	Success        bool         `json:"success"`
	Error          string       `json:"error"`
	Message        string       `json:"message"`
	Data           []requestRow `json:"data"`
	ProcessedCount int          `json:"processed_count"`
}

type actionEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func handlePending(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("LICPANEL_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", os.Getenv("LICPANEL_TOKEN"), "bearer token")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	body, err := httpDo(http.MethodGet, *addr+"/api/requests", *token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	if !envelope.Success {
		fmt.Fprintln(stderr, "pending failed:", envelope.Error)
		return 1
	}
	printRows(stdout, envelope.Data)
	return 0
}

func handleApprove(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("LICPANEL_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", os.Getenv("LICPANEL_TOKEN"), "bearer token")
	hours := fs.Int("hours", 0, "license validity in hours (gateway default when 0)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "approve requires <machine_code>")
		return 2
	}

	payload := map[string]any{"machine_code": fs.Arg(0)}
	if *hours > 0 {
		payload["expire_hours"] = *hours
	}
	return postAction(*addr+"/api/approve", *token, payload, stdout, stderr)
}

func handleReject(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("reject", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("LICPANEL_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", os.Getenv("LICPANEL_TOKEN"), "bearer token")
	reason := fs.String("reason", "", "rejection reason (gateway default when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "reject requires <machine_code>")
		return 2
	}

	payload := map[string]any{"machine_code": fs.Arg(0)}
	if *reason != "" {
		payload["reason"] = *reason
	}
	return postAction(*addr+"/api/reject", *token, payload, stdout, stderr)
}

func handleSync(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("LICPANEL_ADDR", defaultAddr), "gateway address")
	token := fs.String("token", os.Getenv("LICPANEL_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	body, err := httpDo(http.MethodPost, *addr+"/api/sync", *token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	if !envelope.Success {
		fmt.Fprintln(stderr, "sync failed:", envelope.Error)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %d processed total\n", envelope.Message, envelope.ProcessedCount)
	printRows(stdout, envelope.Data)
	return 0
}

func postAction(url string, token string, payload map[string]any, stdout io.Writer, stderr io.Writer) int {
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	respBody, err := httpDo(http.MethodPost, url, token, body)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	var envelope actionEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	if !envelope.Success {
		fmt.Fprintln(stderr, "failed:", envelope.Error)
		return 1
	}
	fmt.Fprintln(stdout, envelope.Message)
	return 0
}

func printRows(w io.Writer, rows []requestRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no pending requests")
		return
	}
	for _, row := range rows {
		details := strings.TrimRight(strings.Join([]string{row.ComputerName, row.Username, row.System}, " "), " ")
		fmt.Fprintf(w, "%s  %s  %s\n", row.MachineCode, row.RequestTime, details)
	}
}

func httpDo(method string, url string, token string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func envOrDefault(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
