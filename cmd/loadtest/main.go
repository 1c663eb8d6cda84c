package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var corpus = []string{
	"Passage highlighting splits a document into sentences. Each sentence is scored against the query terms. The best sentences are returned with the matching terms marked up.",
	"A reusable passage record keeps its match buffers between sentences. Resetting it clears the offsets and the score but keeps the allocated capacity for the next sentence.",
	"The cache stores highlights per document and query. Updating a document drops its cached highlights so readers never see stale snippets after a write.",
	"Batch requests highlight many documents concurrently. Each worker draws its own passage from a pool and returns it when the document is done.",
}

var queries = []string{
	"passage",
	"sentence score",
	"cache document",
	"batch worker pool",
	"highlight OR snippet",
	"capacity NOT buffer",
	"zebra",
}

type result struct {
	latency time.Duration
	status  int
	err     error
}

type report struct {
	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int
	failures  int
}

func (r *report) add(res result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.err != nil {
		r.failures++
		return
	}
	r.latencies = append(r.latencies, res.latency)
	r.statuses[res.status]++
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the highlight service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "target requests per second across all workers (0 = unlimited)")
	batch := flag.Int("batch", 0, "documents per batch request (0 = single highlights)")
	flag.Parse()

	fmt.Println("=== Highlight Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	if *batch > 0 {
		fmt.Printf("Batch size:  %d\n", *batch)
	}
	fmt.Println()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if *rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rps), max(1, int(*rps/10)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	rep := &report{statuses: make(map[int]int)}

	var g errgroup.Group
	for w := range *concurrency {
		g.Go(func() error {
			for i := w; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				path, body := nextRequest(i, *batch)
				res := send(ctx, client, *baseURL+path, body)
				if ctx.Err() != nil {
					return nil
				}
				rep.add(res)
			}
		})
	}
	g.Wait()

	if !printReport(rep, *duration) {
		os.Exit(1)
	}
}

func nextRequest(i, batch int) (string, []byte) {
	query := queries[i%len(queries)]
	if batch <= 0 {
		body, _ := json.Marshal(map[string]any{
			"text":  corpus[i%len(corpus)],
			"query": query,
		})
		return "/api/v1/highlight", body
	}
	docs := make([]map[string]string, batch)
	for d := range docs {
		docs[d] = map[string]string{
			"id":   fmt.Sprintf("doc-%d", d),
			"text": corpus[(i+d)%len(corpus)],
		}
	}
	body, _ := json.Marshal(map[string]any{"query": query, "documents": docs})
	return "/api/v1/highlight/batch", body
}

func send(ctx context.Context, client *http.Client, url string, body []byte) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{latency: time.Since(start), status: resp.StatusCode}
}

func printReport(rep *report, duration time.Duration) bool {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	total := len(rep.latencies) + rep.failures
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Transport errors: %d\n", rep.failures)
	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())

	if len(rep.latencies) > 0 {
		slices.Sort(rep.latencies)
		var sum time.Duration
		for _, l := range rep.latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", rep.latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(rep.latencies)))
		for _, p := range []int{50, 90, 99} {
			fmt.Printf("P%d:    %s\n", p, percentile(rep.latencies, p))
		}
		fmt.Printf("Max:    %s\n", rep.latencies[len(rep.latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(rep.statuses))
	for code := range rep.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, rep.statuses[code])
	}
	return true
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
