package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

// SimConfig drives a contention run against a live api-server.
type SimConfig struct {
	APIBaseURL string
	Dentists   []string
	Day        string // empty means tomorrow in UTC
	Rounds     int
	Racers     int // concurrent clients per contested slot
	WalkIns    int // concurrent walk-ins per dentist
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.Latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Simulator struct {
	config SimConfig
	client *http.Client

	booking    OperationMetrics
	walkIn     OperationMetrics
	violations []string
}

func main() {
	logging.Init("simulate", "dev", getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	log.Info().
		Str("api", cfg.APIBaseURL).
		Strs("dentists", cfg.Dentists).
		Int("rounds", cfg.Rounds).
		Int("racers", cfg.Racers).
		Msg("simulator starting")

	// zero asks gofakeit for a random seed
	gofakeit.Seed(0)

	sim := &Simulator{config: cfg, client: &http.Client{Timeout: 10 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sim.raceBookings(ctx)
	sim.raceWalkIns(ctx)
	sim.PrintReport()

	if len(sim.violations) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Dentists:   strings.Split(getEnv("SIM_DENTISTS", "DEN-01,DEN-02,DEN-03"), ","),
		Day:        os.Getenv("SIM_DAY"),
		Rounds:     getInt("SIM_ROUNDS", 10),
		Racers:     getInt("SIM_RACERS", 20),
		WalkIns:    getInt("SIM_WALK_INS", 15),
	}
	if cfg.Day == "" {
		cfg.Day = time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	}
	if cfg.Racers <= 1 {
		log.Fatal().Int("racers", cfg.Racers).Msg("SIM_RACERS must be at least 2")
	}
	return cfg
}

func guest() map[string]any {
	return map[string]any{
		"kind":  "guest",
		"name":  gofakeit.Name(),
		"phone": gofakeit.Phone(),
	}
}

func (s *Simulator) post(ctx context.Context, path string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "simulator")
	return s.do(req)
}

func (s *Simulator) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	return s.do(req)
}

func (s *Simulator) do(req *http.Request) (int, []byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

type freeSlot struct {
	TimeSlot string    `json:"time_slot"`
	StartsAt time.Time `json:"starts_at"`
}

func (s *Simulator) freeSlots(ctx context.Context, dentist string) ([]freeSlot, error) {
	status, body, err := s.get(ctx, fmt.Sprintf("/dentists/%s/available-slots?date=%s", dentist, s.config.Day))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("available slots for %s: status %d: %s", dentist, status, body)
	}
	var resp struct {
		Slots []freeSlot `json:"slots"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

// raceBookings fires Racers concurrent bookings at one dentist-instant per
// round. Exactly one may win.
func (s *Simulator) raceBookings(ctx context.Context) {
	for round := 0; round < s.config.Rounds; round++ {
		dentist := s.config.Dentists[round%len(s.config.Dentists)]
		slots, err := s.freeSlots(ctx, dentist)
		if err != nil {
			log.Error().Err(err).Msg("list free slots")
			return
		}
		if len(slots) == 0 {
			log.Warn().Str("dentist", dentist).Msg("no free slots left, skipping round")
			continue
		}
		target := slots[gofakeit.Number(0, len(slots)-1)]

		var (
			wg      sync.WaitGroup
			winners int64
			start   = make(chan struct{})
		)
		for i := 0; i < s.config.Racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				began := time.Now()
				status, _, err := s.post(ctx, "/appointments", map[string]any{
					"dentist_code": dentist,
					"starts_at":    target.StartsAt,
					"patient":      guest(),
					"reason":       "contention run",
				})
				if err != nil {
					status = 0
				}
				s.booking.Record(time.Since(began), status)
				if status == http.StatusCreated {
					atomic.AddInt64(&winners, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if winners != 1 {
			s.violations = append(s.violations,
				fmt.Sprintf("round %d: %s %s had %d winners", round, dentist, target.TimeSlot, winners))
		}
		log.Info().Int("round", round).Str("dentist", dentist).Str("slot", target.TimeSlot).Int64("winners", winners).Msg("round done")
	}
}

// raceWalkIns adds WalkIns concurrent walk-ins per dentist and checks the
// resulting queue positions are 1..n with no gaps or repeats.
func (s *Simulator) raceWalkIns(ctx context.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	for _, dentist := range s.config.Dentists {
		var wg sync.WaitGroup
		for i := 0; i < s.config.WalkIns; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				began := time.Now()
				status, _, err := s.post(ctx, "/queue", map[string]any{
					"dentist_code": dentist,
					"patient":      guest(),
					"reason":       "walk-in",
				})
				if err != nil {
					status = 0
				}
				s.walkIn.Record(time.Since(began), status)
			}()
		}
		wg.Wait()

		status, body, err := s.get(ctx, fmt.Sprintf("/queue?dentist=%s&date=%s", dentist, today))
		if err != nil || status != http.StatusOK {
			log.Error().Err(err).Int("status", status).Str("dentist", dentist).Msg("read queue")
			continue
		}
		var entries []struct {
			Position int `json:"position"`
		}
		if err := json.Unmarshal(body, &entries); err != nil {
			log.Error().Err(err).Msg("decode queue")
			continue
		}
		for i, e := range entries {
			if e.Position != i+1 {
				s.violations = append(s.violations,
					fmt.Sprintf("queue %s: position %d at index %d", dentist, e.Position, i))
				break
			}
		}
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Day: %s  Rounds: %d  Racers: %d\n\n", s.config.Day, s.config.Rounds, s.config.Racers)

	printOperationReport("Same-instant booking", &s.booking)
	printOperationReport("Concurrent walk-in", &s.walkIn)

	if len(s.violations) == 0 {
		fmt.Println("No violations.")
		return
	}
	fmt.Printf("%d violations:\n", len(s.violations))
	for _, v := range s.violations {
		fmt.Println("  " + v)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s p99=%s\n\n",
		om.Percentile(50).Round(time.Millisecond),
		om.Percentile(95).Round(time.Millisecond),
		om.Percentile(99).Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
