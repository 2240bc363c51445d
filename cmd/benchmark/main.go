package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/adauction/internal/domain"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	increment   string
)

// Metrics
var (
	totalRequests uint64
	accepted201   uint64
	outbid422     uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | contended")
	flag.StringVar(&increment, "increment", "0.001", "Maximum raise over the current high bid, in whole units")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	maxRaise, err := parseIncrement(increment)
	if err != nil {
		log.Fatalf("invalid increment %q: %v", increment, err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, maxRaise)
	}

	wg.Wait()
	elapsed := time.Since(start)

	integrityErr := checkHistory()
	printResults(elapsed, integrityErr)
}

// parseIncrement converts a raise in whole units to smallest units. The result
// feeds rand.Int63n, so it must be positive and fit in an int64.
func parseIncrement(s string) (int64, error) {
	raise, err := domain.ParseUnits(s, domain.EtherDecimals)
	if err != nil {
		return 0, err
	}
	if !raise.IsPositive() {
		return 0, errors.New("must be positive")
	}
	if raise.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("must not exceed %s", domain.FormatUnits(decimal.NewFromInt(math.MaxInt64), domain.EtherDecimals))
	}
	return raise.IntPart(), nil
}

func worker(wg *sync.WaitGroup, start time.Time, n int, maxRaise int64) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	caller := fmt.Sprintf("0x%040x", n+1)

	for time.Since(start) < duration {
		high, err := currentHighBid(client)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		amount := high.Add(decimal.NewFromInt(1))
		if workload == "uniform" {
			// Uniform: random raise, so racing workers rarely collide on the same amount
			raise := decimal.NewFromInt(rand.Int63n(maxRaise) + 1)
			amount = high.Add(raise)
		}

		payload := map[string]interface{}{
			"text":      fmt.Sprintf("worker %d", n),
			"image_url": "",
			"amount":    amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/bids", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Caller-Address", caller)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&accepted201, 1)
		case 422:
			atomic.AddUint64(&outbid422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func currentHighBid(client *http.Client) (decimal.Decimal, error) {
	resp, err := client.Get(targetURL + "/api/v1/ad")
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return decimal.Zero, err
	}
	return snap.HighBid, nil
}

// checkHistory verifies that accepted bids form a gap-free, strictly rising
// sequence.
func checkHistory() error {
	resp, err := http.Get(targetURL + "/api/v1/bids")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var bids []domain.BidRecord
	if err := json.NewDecoder(resp.Body).Decode(&bids); err != nil {
		return err
	}
	prev := decimal.Zero
	for i, b := range bids {
		if b.SequenceID != uint64(i+1) {
			return fmt.Errorf("sequence gap at %d: got %d", i+1, b.SequenceID)
		}
		if !b.Amount.GreaterThan(prev) {
			return fmt.Errorf("bid %d does not exceed its predecessor", b.SequenceID)
		}
		prev = b.Amount
	}
	return nil
}

func printResults(d time.Duration, integrityErr error) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&accepted201)
	f422 := atomic.LoadUint64(&outbid422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	outbidRate := float64(f422) / float64(total) * 100

	integrity := "ok"
	if integrityErr != nil {
		integrity = integrityErr.Error()
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"bids_accepted":   s201,
		"bids_outbid":     f422,
		"outbid_rate_pct": outbidRate,
		"errors":          fErr,
		"integrity":       integrity,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
