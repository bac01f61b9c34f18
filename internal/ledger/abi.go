package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/rs/zerolog/log"
)

//go:embed abi/orderbook.json
var defaultABI []byte

// ABIResolver finds the interface definition of the order book contract.
// Sources are tried in order: a local JSON file, an Etherscan compatible
// getabi endpoint, then the built-in order book definition.
type ABIResolver struct {
	Path        string
	ExplorerURL string
	APIKey      string
	Address     string
	HTTPClient  *http.Client
}

// explorerResponse is the envelope returned by Etherscan style APIs.
// Result holds the ABI as a JSON encoded string on success and an error
// description otherwise.
type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// Resolve returns the raw ABI JSON and its parsed form.
func (r *ABIResolver) Resolve(ctx context.Context) (json.RawMessage, abi.ABI, error) {
	raw, source, err := r.fetch(ctx)
	if err != nil {
		return nil, abi.ABI{}, err
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, abi.ABI{}, fmt.Errorf("failed to parse contract abi from %s: %w", source, err)
	}

	log.Debug().
		Str("component", "abi_resolver").
		Str("source", source).
		Int("methods", len(parsed.Methods)).
		Msg("resolved contract abi")

	return json.RawMessage(raw), parsed, nil
}

func (r *ABIResolver) fetch(ctx context.Context) ([]byte, string, error) {
	if r.Path != "" {
		raw, err := os.ReadFile(r.Path)
		if err != nil {
			return nil, "file", fmt.Errorf("failed to read contract abi: %w", err)
		}
		return raw, "file", nil
	}

	if r.APIKey != "" && r.ExplorerURL != "" {
		raw, err := r.fetchFromExplorer(ctx)
		if err != nil {
			return nil, "explorer", err
		}
		return raw, "explorer", nil
	}

	return defaultABI, "builtin", nil
}

func (r *ABIResolver) fetchFromExplorer(ctx context.Context) ([]byte, error) {
	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ExplorerURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", r.Address)
	q.Set("apikey", r.APIKey)
	req.URL.RawQuery = q.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contract abi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("abi lookup failed with status: %d", resp.StatusCode)
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode abi response: %w", err)
	}
	if body.Status != "1" {
		return nil, fmt.Errorf("abi lookup rejected: %s: %s", body.Message, body.Result)
	}
	if body.Result == "" {
		return nil, errors.New("abi lookup returned an empty result")
	}

	return []byte(body.Result), nil
}
