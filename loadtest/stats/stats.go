// Package stats aggregates client-side measurements from simulated chat
// users (connect latency, message round-trip latency, errors) and prints a
// summary report with percentile distributions. A Scraper can be attached to
// fold the server's own Prometheus metrics into the same report.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector receives measurements from many client goroutines. All methods
// are goroutine-safe.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	msgLatencies     []time.Duration
	errors           int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a Collector; the test duration is measured from now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetScraper attaches a server metrics scraper. When set, Report also prints
// the scraped chat server metrics.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records one successful WebSocket connect and its latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddMsgLatency records one message round-trip measurement.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddError counts one failed connect, send, or timed-out wait.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the number of successful connects so far.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of errors so far.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the aggregated client-side results: duration, connect and
// error totals, latency percentiles, and (when a scraper is attached) the
// server-side metric summary.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Chat Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)
	if c.connections > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(c.errors)/float64(c.connections)*100)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		printLatencySummary(c.connectLatencies)
	}
	if len(c.msgLatencies) > 0 {
		fmt.Println("\n--- Message Round-Trip Latency ---")
		printLatencySummary(c.msgLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printLatencySummary sorts the samples and prints avg, p50, p95, p99, and
// max, with the sample count.
func printLatencySummary(samples []time.Duration) {
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	n := len(samples)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		(sum / time.Duration(n)).Round(time.Microsecond),
		percentile(samples, 0.50).Round(time.Microsecond),
		percentile(samples, 0.95).Round(time.Microsecond),
		percentile(samples, 0.99).Round(time.Microsecond),
		samples[n-1].Round(time.Microsecond),
		n,
	)
}

// percentile returns the p-th percentile of sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
