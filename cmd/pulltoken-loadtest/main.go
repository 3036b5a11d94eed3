package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goPullToken "github.com/MrEthical07/goPullToken"
)

// counterStream is a stream stub that only tracks totals.
type counterStream struct {
	mu      sync.Mutex
	sent    big.Int
	ceiling big.Int
}

func (s *counterStream) TotalSent() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(&s.sent)
}

func (s *counterStream) SetSendCeiling(c *big.Int) {
	s.mu.Lock()
	s.ceiling.Set(c)
	s.mu.Unlock()
}

// take sends up to amount without crossing the ceiling and returns what was sent.
func (s *counterStream) take(amount int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := new(big.Int).Sub(&s.ceiling, &s.sent)
	if room.Sign() <= 0 {
		return 0
	}
	if room.IsInt64() && room.Int64() < amount {
		amount = room.Int64()
	}
	s.sent.Add(&s.sent, big.NewInt(amount))
	return amount
}

type tokenState struct {
	raw    []byte
	connID string
	stream *counterStream
}

func main() {
	var (
		tokens      = flag.Int("tokens", 20000, "number of tokens to issue and exchange")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "spend events to send")
		amount      = flag.Int64("amount", 1_000_000, "per-period amount on each token")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "pt", "ledger key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 || *amount <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, ops and amount must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goPullToken.DefaultConfig()
	cfg.Ledger.RedisPrefix = *prefix
	cfg.Exchange.EnableIPThrottle = false

	engine, err := goPullToken.New().
		WithConfig(cfg).
		WithMasterSecret([]byte("loadtest-master-secret-0123456789")).
		WithRedis(client).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]tokenState, *tokens)
	fmt.Printf("issuing %d tokens...\n", *tokens)
	startIssue := time.Now()
	for i := range states {
		tok, err := engine.Issue(ctx, goPullToken.IssueRequest{
			Amount: big.NewInt(*amount),
			Period: time.Hour,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i].raw = tok.Bytes()
	}
	fmt.Printf("issued in %s\n", time.Since(startIssue).Round(time.Millisecond))

	exchangeStats := runExchangePhase(ctx, engine, states, *concurrency)
	spendStats := runSpendPhase(engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("exchange", exchangeStats)
	printStats("spend", spendStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("ceilings=%d over_budget=%d duplicates=%d\n",
		snap.Counters[goPullToken.MetricCeilingIssued],
		snap.Counters[goPullToken.MetricSpendOverBudget],
		snap.Counters[goPullToken.MetricExchangeDuplicate],
	)
}

// runExchangePhase exchanges every token twice. Whichever attempt loses must be rejected
// as a duplicate; anything else counts as a failure.
func runExchangePhase(ctx context.Context, engine *goPullToken.Engine, states []tokenState, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, 2*len(states))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= 2*len(states) {
					return
				}
				state := &states[i%len(states)]
				t0 := time.Now()
				res, err := engine.Exchange(ctx, goPullToken.ExchangeRequest{Token: state.raw})
				d := time.Since(t0)

				switch {
				case err == nil:
					stream := &counterStream{}
					connID, attachErr := engine.Attach(goPullToken.ConnectionInfo{Tag: res.TokenID}, stream)
					if attachErr != nil {
						atomic.AddInt64(&failures, 1)
						break
					}
					mu.Lock()
					state.connID = connID
					state.stream = stream
					mu.Unlock()
				case !errors.Is(err, goPullToken.ErrDuplicateRegistration):
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runSpendPhase(engine *goPullToken.Engine, states []tokenState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				if state.stream == nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				sent := state.stream.take(int64(r.Intn(1000) + 1))
				if sent == 0 {
					continue
				}
				t0 := time.Now()
				_, err := engine.HandleSpend(goPullToken.SpendEvent{
					ConnectionID: state.connID,
					Amount:       big.NewInt(sent),
				})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
