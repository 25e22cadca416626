package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL         string
	Table           string
	Zoom            int
	Tiles           int
	CenterLon       float64
	CenterLat       float64
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	RequestTimeout  time.Duration
	OutputPrefix    string
	InvalidateEvery time.Duration
	Driver          string
	Brokers         string
	Topic           string
	RedisAddr       string
	Channel         string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "Tile server base URL")
	flag.StringVar(&cfg.Table, "table", "roads", "Table to request tiles from")
	flag.IntVar(&cfg.Zoom, "zoom", 12, "Zoom level of the tile pool")
	flag.IntVar(&cfg.Tiles, "tiles", 64, "Distinct tiles in the pool")
	flag.Float64Var(&cfg.CenterLon, "lon", 18.0686, "Pool center longitude")
	flag.Float64Var(&cfg.CenterLat, "lat", 59.3293, "Pool center latitude")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix for the JSON summary")
	flag.DurationVar(&cfg.InvalidateEvery, "invalidate-every", 0, "Publish a table invalidation event at this interval (0 = never)")
	flag.StringVar(&cfg.Driver, "driver", "kafka", "Invalidation transport: kafka|redis")
	flag.StringVar(&cfg.Brokers, "brokers", "localhost:9092", "Kafka brokers (comma separated)")
	flag.StringVar(&cfg.Topic, "topic", "table-invalidation", "Kafka topic")
	flag.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address")
	flag.StringVar(&cfg.Channel, "channel", "table-invalidation", "Redis channel")
	flag.Parse()
	return cfg
}

type sample struct {
	Latency time.Duration
	Status  int
	Err     string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	Invalidations int64     `json:"invalidations"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Tiles         int       `json:"tiles"`
	Zoom          int       `json:"zoom"`
	Table         string    `json:"table"`
	Target        string    `json:"target"`
}

func main() {
	cfg := loadConfig()
	if cfg.Concurrency <= 0 || cfg.Tiles <= 0 {
		log.Fatalf("concurrency and tiles must be > 0")
	}

	seed := time.Now().UnixNano()
	tiles := makeTilePool(cfg.CenterLon, cfg.CenterLat, cfg.Zoom, cfg.Tiles)
	imax := uint64(len(tiles)) - 1

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var pub publisher
	if cfg.InvalidateEvery > 0 {
		p, err := newPublisher(ctx, cfg)
		if err != nil {
			log.Fatalf("invalidation publisher: %v", err)
		}
		pub = p
		defer func() { _ = pub.Close() }()
	}

	samples := make(chan sample, 4096)
	results := make(chan []sample, 1)
	go func() {
		var all []sample
		for s := range samples {
			all = append(all, s)
		}
		results <- all
	}()

	var invalidations int64
	var invWG sync.WaitGroup
	if pub != nil {
		invWG.Add(1)
		go func() {
			defer invWG.Done()
			t := time.NewTicker(cfg.InvalidateEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := pub.Publish(ctx, cfg.Table); err != nil {
						log.Printf("publish invalidation: %v", err)
						continue
					}
					invalidations++
				}
			}
		}()
	}

	startTime := time.Now()
	log.Printf("loadgen start target=%s table=%s zoom=%d tiles=%d dur=%s conc=%d zipf(s=%.2f,v=%.2f)",
		cfg.BaseURL, cfg.Table, cfg.Zoom, len(tiles), cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV)

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				tile := tiles[int(zipf.Uint64())]
				s := fetch(ctx, httpClient, tileURL(cfg.BaseURL, cfg.Table, tile))
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samples)
	}()

	all := <-results
	invWG.Wait()
	endTime := time.Now()
	run := summarize(all, endTime.Sub(startTime))
	run.StartTime, run.EndTime = startTime.UTC(), endTime.UTC()
	run.Invalidations = invalidations
	run.Concurrency, run.Tiles, run.Zoom = cfg.Concurrency, len(tiles), cfg.Zoom
	run.Table, run.Target = cfg.Table, cfg.BaseURL

	if err := writeSummary(cfg.OutputPrefix, run); err != nil {
		log.Printf("write summary: %v", err)
	}
	log.Printf("done: total=%d succ=%d err=%d inv=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		run.TotalRequests, run.SuccessCount, run.ErrorCount, run.Invalidations,
		run.ThroughputRPS, run.P50Ms, run.P95Ms, run.P99Ms)
}

func tileURL(base, table string, t Tile) string {
	return fmt.Sprintf("%s/mvt/v1/%s/%d/%d/%d", strings.TrimRight(base, "/"), table, t.Z, t.X, t.Y)
}

func fetch(ctx context.Context, c *http.Client, u string) sample {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return sample{Err: err.Error()}
	}
	resp, err := c.Do(req)
	s := sample{Latency: time.Since(start)}
	if err != nil {
		s.Err = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.Err = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

func summarize(all []sample, elapsed time.Duration) summary {
	var out summary
	lat := make([]float64, 0, len(all))
	for _, s := range all {
		out.TotalRequests++
		if s.Err == "" {
			out.SuccessCount++
			lat = append(lat, float64(s.Latency.Microseconds())/1000.0)
		} else {
			out.ErrorCount++
		}
	}
	sort.Float64s(lat)
	out.DurationSec = elapsed.Seconds()
	if out.DurationSec > 0 {
		out.ThroughputRPS = float64(out.TotalRequests) / out.DurationSec
	}
	out.P50Ms = percentile(lat, 50)
	out.P95Ms = percentile(lat, 95)
	out.P99Ms = percentile(lat, 99)
	return out
}

func writeSummary(prefix string, s summary) error {
	if err := os.MkdirAll(filepath.Dir(prefix), 0o750); err != nil {
		return fmt.Errorf("mkdir results: %w", err)
	}
	path := fmt.Sprintf("%s_%s_summary.json", prefix, time.Now().UTC().Format("20060102_150405Z"))
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	log.Printf("wrote %s", path)
	return nil
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
