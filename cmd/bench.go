package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

const benchMessage = "Analyze this satellite imagery and tell me about vegetation health in 1-2 sentences."

// Verdicts for how well concurrent requests overlapped.
const (
	VerdictExcellent = "EXCELLENT"
	VerdictGood      = "GOOD"
	VerdictPoor      = "POOR"
)

type benchResult struct {
	ID       int
	Duration time.Duration
	Status   int
	Err      error
}

func (r benchResult) ok() bool { return r.Err == nil && r.Status == http.StatusOK }

type benchReport struct {
	Total   time.Duration
	Results []benchResult
}

func (r benchReport) succeeded() []benchResult {
	var out []benchResult
	for _, res := range r.Results {
		if res.ok() {
			out = append(out, res)
		}
	}
	return out
}

// Verdict compares the wall time of the batch with its slowest request.
// Empty when nothing succeeded.
func (r benchReport) Verdict() string {
	ok := r.succeeded()
	if len(ok) == 0 {
		return ""
	}
	var slowest time.Duration
	for _, res := range ok {
		slowest = max(slowest, res.Duration)
	}
	switch {
	case float64(r.Total) < float64(slowest)*1.5:
		return VerdictExcellent
	case r.Total < slowest*2:
		return VerdictGood
	default:
		return VerdictPoor
	}
}

func newBenchCmd(c *cli) *cobra.Command {
	var (
		baseURL  string
		requests int
		wmsURL   string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent requests at a running API and report how well they overlapped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := strings.TrimRight(baseURL, "/")
			client := &http.Client{Timeout: timeout}
			out := cmd.OutOrStdout()

			resp, err := client.Get(base + "/api/health")
			if err != nil {
				return fmt.Errorf("cannot reach %s: %w", base, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check returned %d", resp.StatusCode)
			}

			path, body := "/api/vision/chat", any(map[string]string{"message": benchMessage})
			if wmsURL != "" {
				path, body = "/api/vision/analyze_satellite", map[string]string{
					"wms_url":       wmsURL,
					"layer":         "NDVI-L2A",
					"location_name": "Bench Area",
				}
			}

			fmt.Fprintf(out, "Testing %d concurrent requests against %s%s\n", requests, base, path)
			report := runBench(cmd.Context(), client, base+path, body, requests, func(r benchResult) {
				if r.ok() {
					fmt.Fprintf(out, "Request %d: completed in %s\n", r.ID, utils.FormatDuration(r.Duration))
				} else {
					fmt.Fprintf(out, "Request %d: failed after %s (status %d, %v)\n", r.ID, utils.FormatDuration(r.Duration), r.Status, r.Err)
				}
			})
			printReport(out, report)
			c.log.Debug().Dur("total", report.Total).Str("verdict", report.Verdict()).Msg("bench finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:5000", "Base URL of a running API")
	cmd.Flags().IntVarP(&requests, "requests", "n", 5, "Number of concurrent requests")
	cmd.Flags().StringVar(&wmsURL, "wms-url", "", "Benchmark satellite analysis of this WMS URL instead of chat")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Per-request timeout")
	return cmd
}

// runBench posts body to url n times at once. progress is called as each request finishes.
func runBench(ctx context.Context, client *http.Client, url string, body any, n int, progress func(benchResult)) benchReport {
	payload, _ := json.Marshal(body)
	p := pool.NewWithResults[benchResult]().WithMaxGoroutines(max(n, 1))

	start := time.Now()
	for i := 1; i <= n; i++ {
		p.Go(func() benchResult {
			r := postOnce(ctx, client, url, payload)
			r.ID = i
			if progress != nil {
				progress(r)
			}
			return r
		})
	}
	results := p.Wait()
	return benchReport{Total: time.Since(start), Results: results}
}

func postOnce(ctx context.Context, client *http.Client, url string, payload []byte) benchResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return benchResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return benchResult{Duration: time.Since(start), Err: err}
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return benchResult{Duration: time.Since(start), Status: resp.StatusCode, Err: err}
}

func printReport(out io.Writer, r benchReport) {
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Total time for %d requests: %s\n", len(r.Results), utils.FormatDuration(r.Total))

	ok := r.succeeded()
	fmt.Fprintf(out, "Successful requests: %d/%d\n", len(ok), len(r.Results))
	if len(ok) == 0 {
		return
	}
	var sum, lo, hi time.Duration
	lo = ok[0].Duration
	for _, res := range ok {
		sum += res.Duration
		lo = min(lo, res.Duration)
		hi = max(hi, res.Duration)
	}
	fmt.Fprintf(out, "Average request duration: %s\n", utils.FormatDuration(sum/time.Duration(len(ok))))
	fmt.Fprintf(out, "Max request duration: %s\n", utils.FormatDuration(hi))
	fmt.Fprintf(out, "Min request duration: %s\n", utils.FormatDuration(lo))

	switch r.Verdict() {
	case VerdictExcellent:
		fmt.Fprintln(out, "EXCELLENT: requests ran in parallel.")
	case VerdictGood:
		fmt.Fprintln(out, "GOOD: some parallelization achieved.")
	default:
		fmt.Fprintln(out, "POOR: requests appear to be running sequentially.")
	}
}
