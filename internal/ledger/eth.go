package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderbook-mirror/internal/types"
)

// Methods names the order book contract functions.
type Methods struct {
	OrderCount  string
	OrderIDAt   string
	OrderInfo   string
	MatchOrders string
}

// DefaultMethods are the function names of the built-in order book ABI.
var DefaultMethods = Methods{
	OrderCount:  "getOrderIdLength",
	OrderIDAt:   "getOrderId",
	OrderInfo:   "getOrderInfo",
	MatchOrders: "matchOrders",
}

// orderInfoFields is the positional layout of the getOrderInfo outputs.
const orderInfoFields = 9

// EthConfig configures an EthClient.
type EthConfig struct {
	RPCEndpoint     string
	ContractAddress string
	// PrivateKey, when set, makes SubmitMatch broadcast a signed
	// transaction. Without it the match is evaluated with eth_call.
	PrivateKey string
	// ChainID is looked up from the node when zero.
	ChainID int64
	Methods Methods
}

// EthClient is a Client backed by an EVM order book contract.
// The RPC connection and the contract ABI are established on first use and
// retried on the next call after a failure.
type EthClient struct {
	cfg      EthConfig
	resolver *ABIResolver

	mu         sync.Mutex
	rpc        *ethclient.Client
	contract   *bind.BoundContract
	parsed     abi.ABI
	rawABI     json.RawMessage
	transactor *bind.TransactOpts
	signer     common.Address
}

// NewEthClient validates the configuration without touching the network.
func NewEthClient(cfg EthConfig, resolver *ABIResolver) (*EthClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.Methods == (Methods{}) {
		cfg.Methods = DefaultMethods
	}
	if resolver == nil {
		resolver = &ABIResolver{}
	}
	return &EthClient{cfg: cfg, resolver: resolver}, nil
}

// ensure returns the bound contract, connecting and resolving the ABI if
// needed. Any failure is reported as ErrUnavailable.
func (c *EthClient) ensure(ctx context.Context) (*bind.BoundContract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.contract != nil {
		return c.contract, nil
	}

	logger := log.With().Str("component", "eth_ledger").Logger()

	raw, parsed, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, name := range []string{c.cfg.Methods.OrderCount, c.cfg.Methods.OrderIDAt, c.cfg.Methods.OrderInfo, c.cfg.Methods.MatchOrders} {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("%w: contract abi has no method %q", ErrUnavailable, name)
		}
	}

	rpc, err := ethclient.DialContext(ctx, c.cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.cfg.PrivateKey != "" {
		transactor, signer, err := c.newTransactor(ctx, rpc)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.transactor = transactor
		c.signer = signer
	}

	address := common.HexToAddress(c.cfg.ContractAddress)
	c.rpc = rpc
	c.parsed = parsed
	c.rawABI = raw
	c.contract = bind.NewBoundContract(address, parsed, rpc, rpc, rpc)

	logger.Info().
		Str("contract", address.Hex()).
		Bool("signing", c.transactor != nil).
		Msg("connected to ledger")

	return c.contract, nil
}

func (c *EthClient) newTransactor(ctx context.Context, rpc *ethclient.Client) (*bind.TransactOpts, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}

	chainID := big.NewInt(c.cfg.ChainID)
	if c.cfg.ChainID == 0 {
		chainID, err = rpc.ChainID(ctx)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("failed to fetch chain id: %w", err)
		}
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, common.Address{}, err
	}
	return opts, crypto.PubkeyToAddress(key.PublicKey), nil
}

// ABI returns the resolved contract interface.
func (c *EthClient) ABI(ctx context.Context) (json.RawMessage, error) {
	if _, err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawABI, nil
}

// Close releases the RPC connection. The client reconnects on next use.
func (c *EthClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
	}
	c.rpc = nil
	c.contract = nil
}

func (c *EthClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	contract, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, classifyCallError(method, err)
	}
	return out, nil
}

func (c *EthClient) input(method string, i int) (abi.Type, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.parsed.Methods[method]
	if !ok || len(m.Inputs) <= i {
		return abi.Type{}, fmt.Errorf("method %q has no input %d", method, i)
	}
	return m.Inputs[i].Type, nil
}

func (c *EthClient) OrderCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.cfg.Methods.OrderCount)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s returned no values", c.cfg.Methods.OrderCount)
	}
	return toUint64(out[0])
}

func (c *EthClient) OrderIDAt(ctx context.Context, index uint64) (string, error) {
	if _, err := c.ensure(ctx); err != nil {
		return "", err
	}
	t, err := c.input(c.cfg.Methods.OrderIDAt, 0)
	if err != nil {
		return "", err
	}
	arg, err := encodeArg(t, strconv.FormatUint(index, 10))
	if err != nil {
		return "", err
	}

	out, err := c.call(ctx, c.cfg.Methods.OrderIDAt, arg)
	if errors.Is(err, ErrRejected) {
		// out of range indexes revert
		return "", fmt.Errorf("%w: index %d: %v", ErrOrderNotFound, index, err)
	}
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: index %d", ErrOrderNotFound, index)
	}
	id := formatValue(out[0])
	if isZeroID(id) {
		return "", fmt.Errorf("%w: index %d", ErrOrderNotFound, index)
	}
	return id, nil
}

func (c *EthClient) OrderInfo(ctx context.Context, orderID string) (*types.LedgerOrder, error) {
	if _, err := c.ensure(ctx); err != nil {
		return nil, err
	}
	t, err := c.input(c.cfg.Methods.OrderInfo, 0)
	if err != nil {
		return nil, err
	}
	arg, err := encodeArg(t, orderID)
	if err != nil {
		return nil, err
	}

	out, err := c.call(ctx, c.cfg.Methods.OrderInfo, arg)
	if err != nil {
		return nil, err
	}
	if len(out) < orderInfoFields {
		return nil, fmt.Errorf("%s returned %d values, want %d", c.cfg.Methods.OrderInfo, len(out), orderInfoFields)
	}

	cancelled, ok := out[8].(bool)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected cancellation flag type %T", c.cfg.Methods.OrderInfo, out[8])
	}

	id := formatValue(out[0])
	if isZeroID(id) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	return &types.LedgerOrder{
		OrderID:          id,
		AmountA:          formatValue(out[1]),
		AmountB:          formatValue(out[2]),
		AmountLeftToFill: formatValue(out[3]),
		Fees:             formatValue(out[4]),
		TokenA:           formatValue(out[5]),
		TokenB:           formatValue(out[6]),
		User:             formatValue(out[7]),
		IsCancelled:      cancelled,
	}, nil
}

// matchArgs packs a MatchRequest according to the matchOrders signature.
func (c *EthClient) matchArgs(req MatchRequest) ([]interface{}, error) {
	c.mu.Lock()
	m, ok := c.parsed.Methods[c.cfg.Methods.MatchOrders]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("contract abi has no method %q", c.cfg.Methods.MatchOrders)
	}
	if len(m.Inputs) != 6 {
		return nil, fmt.Errorf("%s takes %d inputs, want 6", m.Name, len(m.Inputs))
	}

	ids, err := encodeSliceArg(m.Inputs[0].Type, req.CounterOrderIDs)
	if err != nil {
		return nil, err
	}
	args := []interface{}{ids}
	for i, v := range []string{req.TokenA, req.TokenB, req.AmountA, req.AmountB, strconv.FormatBool(req.AllowPartial)} {
		arg, err := encodeArg(m.Inputs[i+1].Type, v)
		if err != nil {
			return nil, fmt.Errorf("%s argument %q: %w", m.Name, m.Inputs[i+1].Name, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

func (c *EthClient) SubmitMatch(ctx context.Context, req MatchRequest) (Result, error) {
	contract, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}
	args, err := c.matchArgs(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	transactor := c.transactor
	signer := c.signer
	c.mu.Unlock()

	if transactor == nil {
		out, err := c.call(ctx, c.cfg.Methods.MatchOrders, args...)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(out))
		for _, v := range out {
			values = append(values, formatValue(v))
		}
		return CallResult{Values: values}, nil
	}

	opts := *transactor
	opts.Context = ctx
	tx, err := contract.Transact(&opts, c.cfg.Methods.MatchOrders, args...)
	if err != nil {
		return nil, classifyCallError(c.cfg.Methods.MatchOrders, err)
	}
	return TransactionResult{
		Hash:  tx.Hash().Hex(),
		Nonce: tx.Nonce(),
		From:  signer.Hex(),
	}, nil
}

// classifyCallError maps contract reverts onto the package sentinels.
func classifyCallError(method string, err error) error {
	if strings.Contains(err.Error(), "execution reverted") {
		return fmt.Errorf("%w: %s: %v", ErrRejected, method, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}
