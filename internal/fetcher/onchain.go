package fetcher

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	providerOnchain = "onchain"
	ownableABIJSON  = `[{"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`
	opPush4         = 0x63
)

var (
	ownableABI abi.ABI

	// mint(address,uint256) / pause()
	selectorMint  = []byte{0x40, 0xc1, 0x0f, 0x19}
	selectorPause = []byte{0x84, 0x56, 0xcb, 0x59}

	// bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1)
	eip1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(ownableABIJSON))
	if err != nil {
		panic("failed to parse Ownable ABI: " + err.Error())
	}
	ownableABI = parsed
}

// ChainReader is the subset of ethclient the inspector needs.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnchainOptions parameterise the contract inspector.
type OnchainOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Onchain inspects Ethereum contracts over JSON-RPC.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	reader    ChainReader
	clientMux sync.Mutex
}

// NewOnchain builds an inspector that dials lazily on first use.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logger.With().Str("component", "onchain_inspector").Logger()}
}

// NewOnchainWithReader builds an inspector over an existing reader.
func NewOnchainWithReader(reader ChainReader, logger zerolog.Logger) *Onchain {
	o := NewOnchain(OnchainOptions{RPCURL: "injected"}, logger)
	o.reader = reader
	return o
}

// InspectContract reads bytecode, the EIP-1967 slot and owner().
func (o *Onchain) InspectContract(ctx context.Context, chain, address string) (ContractInfo, error) {
	if o.opts.RPCURL == "" {
		return ContractInfo{}, unavailableError(providerOnchain, "ethereum rpc url not configured")
	}
	if c, _ := NormalizeChain(chain); c != ChainEthereum {
		return ContractInfo{}, unavailableError(providerOnchain, "only ethereum contracts can be inspected")
	}
	if !ValidAddress(address) {
		return ContractInfo{}, validationError(providerOnchain, "invalid contract address %q", address)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	reader, err := o.getReader(ctx)
	if err != nil {
		return ContractInfo{}, transportError(providerOnchain, err)
	}

	addr := common.HexToAddress(address)
	code, err := reader.CodeAt(ctx, addr, nil)
	if err != nil {
		return ContractInfo{}, transportError(providerOnchain, err)
	}
	if len(code) == 0 {
		return ContractInfo{}, &Error{Provider: providerOnchain, Kind: KindNotFound, Message: "no contract code at " + addr.Hex()}
	}

	info := ContractInfo{
		HasCode:          true,
		HasMintFunction:  hasSelector(code, selectorMint),
		HasPauseFunction: hasSelector(code, selectorPause),
	}

	slot, err := reader.StorageAt(ctx, addr, eip1967ImplementationSlot, nil)
	if err != nil {
		return ContractInfo{}, transportError(providerOnchain, err)
	}
	if impl := common.BytesToAddress(slot); impl != (common.Address{}) {
		info.HasProxy = true
		info.Implementation = impl.Hex()
		// 代理合约的函数在实现合约中
		if implCode, err := reader.CodeAt(ctx, impl, nil); err == nil {
			info.HasMintFunction = info.HasMintFunction || hasSelector(implCode, selectorMint)
			info.HasPauseFunction = info.HasPauseFunction || hasSelector(implCode, selectorPause)
		}
	}

	owner, err := o.callOwner(ctx, reader, addr)
	switch {
	case err != nil:
		o.logger.Debug().Err(err).Str("address", addr.Hex()).Msg("owner() unavailable")
	case owner == (common.Address{}):
		info.OwnershipRenounced = true
	default:
		info.Owner = owner.Hex()
	}
	return info, nil
}

func (o *Onchain) callOwner(ctx context.Context, reader ChainReader, addr common.Address) (common.Address, error) {
	payload, err := ownableABI.Pack("owner")
	if err != nil {
		return common.Address{}, err
	}
	res, err := reader.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return common.Address{}, err
	}
	outputs, err := ownableABI.Unpack("owner", res)
	if err != nil {
		return common.Address{}, err
	}
	if len(outputs) != 1 {
		return common.Address{}, errors.New("unexpected owner response")
	}
	owner, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode owner output")
	}
	return owner, nil
}

// hasSelector looks for a PUSH4 of the selector in the dispatcher.
func hasSelector(code, selector []byte) bool {
	needle := append([]byte{opPush4}, selector...)
	return bytes.Contains(code, needle)
}

func (o *Onchain) getReader(ctx context.Context) (ChainReader, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.reader != nil {
		return o.reader, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.reader = client
	return client, nil
}

var _ ContractInspector = (*Onchain)(nil)
