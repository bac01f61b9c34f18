package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/auth"
	"github.com/ksred/orderbook-mirror/internal/config"
	"github.com/ksred/orderbook-mirror/internal/database"
	"github.com/ksred/orderbook-mirror/internal/execution"
	"github.com/ksred/orderbook-mirror/internal/ledger"
	"github.com/ksred/orderbook-mirror/internal/ledgersync"
	"github.com/ksred/orderbook-mirror/internal/matching"
	"github.com/ksred/orderbook-mirror/internal/orders"
	"github.com/ksred/orderbook-mirror/internal/server"
	"github.com/ksred/orderbook-mirror/internal/types"
)

const (
	minOrders   = 40
	maxOrders   = 200
	numWorkers  = 5
	callTimeout = 2 * time.Second
)

var tokens = map[string]common.Address{
	"WETH": common.HexToAddress("0xc778417E063141139Fce010982780140Aa0cD5Ab"),
	"DAI":  common.HexToAddress("0x5592EC0cfb4dbc12D3aB100b257153436a1f0FEa"),
	"USDC": common.HexToAddress("0x4DBCdF9B62e891a7cec5A2568C3F4FAF9E8Abe2b"),
	"LINK": common.HexToAddress("0x01BE23585060835E02B77ef475b0Cc51aA1e0709"),
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// apiEnvelope mirrors pkg/response.Response with a typed payload
type apiEnvelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient drives the mirror API over HTTP
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
	order     []string
}

func newSimulationClient(baseURL string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"sync":    {name: "Sync Pass"},
			"matches": {name: "List Matches"},
			"get":     {name: "Get Order"},
			"execute": {name: "Execute Match"},
		},
		order: []string{"auth", "sync", "matches", "get", "execute"},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// do sends a request, records its latency under route and decodes the
// response envelope into out
func (sc *simulationClient) do(route, method, path string, payload interface{}, out interface{}) (int, error) {
	start := time.Now()
	status := 0
	var err error
	defer func() {
		sc.stats[route].addDuration(time.Since(start), err != nil)
	}()

	var body io.Reader
	if payload != nil {
		raw, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			err = marshalErr
			return 0, err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if status != http.StatusOK {
		err = fmt.Errorf("%s %s failed with status %d: %s", method, path, status, string(respBody))
		return status, err
	}
	if out != nil {
		if err = json.Unmarshal(respBody, out); err != nil {
			return status, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return status, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	var token auth.TokenResponse
	_, err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    auth.DevAPIKey,
		APISecret: auth.DevAPISecret,
	}, &token)
	if err != nil {
		return "", err
	}
	return token.Token, nil
}

func (sc *simulationClient) runSync() (*ledgersync.Report, error) {
	var result apiEnvelope[ledgersync.Report]
	if _, err := sc.do("sync", http.MethodPost, "/api/v1/internal/sync", nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (sc *simulationClient) listMatches() ([]types.Match, error) {
	var result apiEnvelope[[]types.Match]
	if _, err := sc.do("matches", http.MethodGet, "/api/v1/matches", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (sc *simulationClient) getOrder(orderID string) (*types.Order, error) {
	var result apiEnvelope[types.Order]
	if _, err := sc.do("get", http.MethodGet, "/api/v1/orders/"+orderID, nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (sc *simulationClient) executeMatch(match types.Match) (int, error) {
	return sc.do("execute", http.MethodPost, "/api/v1/internal/matches/execute", match, nil)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range sc.order {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomOrder builds a live order on a random pair
func randomOrder(rng *rand.Rand, symbols []string) types.LedgerOrder {
	a := symbols[rng.Intn(len(symbols))]
	b := a
	for b == a {
		b = symbols[rng.Intn(len(symbols))]
	}
	amountA := fmt.Sprint((rng.Intn(20) + 1) * 1000)
	id, user := uuid.New(), uuid.New()
	return types.LedgerOrder{
		OrderID:          common.BytesToHash(id[:]).Hex(),
		AmountA:          amountA,
		AmountB:          fmt.Sprint((rng.Intn(20) + 1) * 500),
		AmountLeftToFill: amountA,
		Fees:             "0",
		TokenA:           tokens[a].Hex(),
		TokenB:           tokens[b].Hex(),
		User:             common.BytesToAddress(user[:]).Hex(),
	}
}

// seedLedger fills the ledger with random orders, roughly a third of which
// get a mirrored counter order and a few of which are cancelled
func seedLedger(book *ledger.MemoryLedger, target int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	symbols := make([]string, 0, len(tokens))
	for s := range tokens {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for added := 0; added < target; {
		o := randomOrder(rng, symbols)
		if rng.Intn(10) == 0 {
			o.IsCancelled = true
		}
		book.Add(o)
		added++

		if rng.Intn(3) == 0 && added < target {
			counterID := uuid.New()
			counter := o
			counter.OrderID = common.BytesToHash(counterID[:]).Hex()
			counter.TokenA, counter.TokenB = o.TokenB, o.TokenA
			counter.AmountA, counter.AmountB = o.AmountB, o.AmountA
			counter.AmountLeftToFill = counter.AmountA
			counter.IsCancelled = false
			book.Add(counter)
			added++
		}
	}
}

// complementary checks the pair predicate against mirrored terms
func complementary(a, b *types.Order) bool {
	return a.OrderID != b.OrderID && !a.IsCancelled && !b.IsCancelled &&
		a.TokenA == b.TokenB && a.TokenB == b.TokenA &&
		a.AmountA == b.AmountB && a.AmountB == b.AmountA
}

// startServer wires the full stack against book and an in-memory store
func startServer(book *ledger.MemoryLedger) (*httptest.Server, error) {
	gin.SetMode(gin.ReleaseMode)

	db, err := database.NewDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:simulation-%s?mode=memory&cache=shared", uuid.New().String()),
	})
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(uuid.New().String())
	authService.RegisterAPICredentials(auth.DevAPIKey, auth.DevAPISecret,
		auth.PermissionRead, auth.PermissionSync, auth.PermissionExecute)

	orderService := orders.NewService(db)
	engine := ledgersync.NewEngine(book, orderService.Store(), ledgersync.Config{
		CallTimeout: callTimeout,
		Refresh:     ledgersync.RefreshState,
	})
	scheduler := ledgersync.NewScheduler(engine, 0, false)
	coordinator := execution.NewCoordinator(orderService.Store(), book, callTimeout)

	router := server.NewRouter(server.Handlers{
		AuthService: authService,
		Auth:        auth.NewGinHandlers(authService),
		Orders:      orders.NewGinHandlers(orderService),
		Matches:     matching.NewGinHandlers(matching.NewMatcher(orderService.Store())),
		Execution:   execution.NewGinHandlers(coordinator),
		Sync:        ledgersync.NewGinHandlers(scheduler),
		Ledger:      ledger.NewGinHandlers(book),
		Unthrottled: true,
	})

	return httptest.NewServer(router), nil
}

// main runs the mirror simulation
// It seeds a flaky in-memory ledger, mirrors it, and executes every match
// the mirror reports using concurrent workers
func main() {
	book := ledger.NewMemoryLedger()
	book.MinLatency = 5 * time.Millisecond
	book.MaxLatency = 30 * time.Millisecond
	book.FailureRate = 0.05

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	seedLedger(book, targetOrders)
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	srv, err := startServer(book)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	defer srv.Close()

	simClient, err := newSimulationClient(srv.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	stats := struct {
		LedgerOrders    uint64
		Ingested        int
		SyncFailures    int
		Matches         int
		InvalidMatches  int
		Executed        int
		FailedExecution int
		StartTime       time.Time
	}{StartTime: time.Now()}

	// Two passes: the second retries indexes the flaky ledger dropped and
	// must not duplicate anything ingested by the first.
	for pass := 1; pass <= 2; pass++ {
		report, err := simClient.runSync()
		if err != nil {
			log.Error().Err(err).Int("pass", pass).Msg("Sync pass failed")
			continue
		}
		stats.LedgerOrders = report.LedgerCount
		stats.Ingested += report.Ingested
		stats.SyncFailures = len(report.Failures)
		log.Info().
			Int("pass", pass).
			Uint64("ledger_count", report.LedgerCount).
			Int("ingested", report.Ingested).
			Int("already_present", report.AlreadyPresent).
			Int("failures", len(report.Failures)).
			Msg("Sync pass completed")
	}

	matches, err := simClient.listMatches()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list matches")
	}
	stats.Matches = len(matches)
	log.Info().Int("matches", len(matches)).Msg("Matches found")

	// Check each reported pair against the mirrored terms
	for _, m := range matches {
		o1, err1 := simClient.getOrder(m.OrderID)
		o2, err2 := simClient.getOrder(m.OrderID2)
		if err1 != nil || err2 != nil || !complementary(o1, o2) {
			stats.InvalidMatches++
			log.Error().Str("order_id", m.OrderID).Str("order_id2", m.OrderID2).Msg("Reported match is not complementary")
		}
	}

	matchChan := make(chan types.Match, len(matches))
	for _, m := range matches {
		matchChan <- m
	}
	close(matchChan)

	var (
		wg      sync.WaitGroup
		countMu sync.Mutex
	)
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for m := range matchChan {
				status, err := simClient.executeMatch(m)

				countMu.Lock()
				if err != nil {
					stats.FailedExecution++
				} else {
					stats.Executed++
				}
				countMu.Unlock()

				if err != nil {
					log.Warn().Err(err).Int("worker", workerID).Int("status", status).
						Str("order_id", m.OrderID).Str("order_id2", m.OrderID2).
						Msg("Match execution failed")
					continue
				}
				log.Info().Int("worker", workerID).
					Str("order_id", m.OrderID).Str("order_id2", m.OrderID2).
					Msg("Match executed")
			}
		}(i)
	}
	wg.Wait()

	// Pull the post-execution ledger state back into the mirror
	if report, err := simClient.runSync(); err == nil {
		log.Info().Int("refreshed", report.Refreshed).Msg("Post-execution sync completed")
	} else {
		log.Error().Err(err).Msg("Post-execution sync failed")
	}

	duration := time.Since(stats.StartTime)

	fmt.Println("\nSimulation Summary")
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("%-30s %d\n", "Ledger orders:", stats.LedgerOrders)
	fmt.Printf("%-30s %d\n", "Ingested:", stats.Ingested)
	fmt.Printf("%-30s %d\n", "Unreadable after 2 passes:", stats.SyncFailures)
	fmt.Printf("%-30s %d\n", "Matches:", stats.Matches)
	fmt.Printf("%-30s %d\n", "Invalid matches:", stats.InvalidMatches)
	fmt.Printf("%-30s %d\n", "Executed:", stats.Executed)
	fmt.Printf("%-30s %d\n", "Failed executions:", stats.FailedExecution)
	fmt.Printf("%-30s %s\n", "Duration:", duration.Round(time.Millisecond))
	fmt.Println(strings.Repeat("-", 50))

	simClient.printPerformanceStats()

	log.Info().Msg("Simulation completed")
}
