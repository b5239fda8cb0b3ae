package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// liveWorld mirrors one entry of the server's /admin/v1/worlds reply.
type liveWorld struct {
	Name     string `json:"name"`
	Index    uint64 `json:"index"`
	State    string `json:"state"`
	Agents   int    `json:"agents"`
	Food     int    `json:"food"`
	Occupied int    `json:"occupied"`
}

type liveState struct {
	Worlds   []liveWorld `json:"worlds"`
	Sessions int64       `json:"sessions"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("json", false, "print the raw reply")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, body, err := fetchState(ctx, http.DefaultClient, *baseURL)
	if *raw && body != nil {
		os.Stdout.Write(body)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		return
	}
	if err := printState(os.Stdout, st); err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
}

// fetchState reads the live worlds of the server at baseURL. The reply
// body is returned as well, even when it could not be decoded.
func fetchState(ctx context.Context, cl *http.Client, baseURL string) (liveState, []byte, error) {
	var st liveState
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/worlds"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return st, nil, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return st, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return st, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return st, body, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, body, fmt.Errorf("decode worlds: %w", err)
	}
	return st, body, nil
}

func printState(w io.Writer, st liveState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tAGENTS\tFOOD\tOCCUPIED")
	for _, lw := range st.Worlds {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", lw.Name, lw.State, lw.Agents, lw.Food, lw.Occupied)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d world(s), %d session(s)\n", len(st.Worlds), st.Sessions)
	return err
}
