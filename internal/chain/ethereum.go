package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Config describes how to dial and sign for one EVM-compatible network.
type Config struct {
	Network string
	RPCURL  string
	// SignerKeyHex is the hex-encoded (no 0x prefix required) ECDSA private
	// key. When absent, PaymentCoordinator construction is skipped entirely.
	SignerKeyHex string
}

// EthClient implements both Signer and RPC against a live go-ethereum node.
type EthClient struct {
	network    string
	rpcClient  *gethrpc.Client
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.SugaredLogger
}

// Dial connects to cfg.RPCURL and derives the signer address from
// cfg.SignerKeyHex.
func Dial(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*EthClient, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: RPC_URL is required")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.Network, err)
	}
	eth := ethclient.NewClient(rpcClient)

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid signer key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	return &EthClient{
		network:    cfg.Network,
		rpcClient:  rpcClient,
		eth:        eth,
		privateKey: key,
		address:    addr,
		logger:     logger,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Address implements Signer.
func (c *EthClient) Address() string {
	return c.address.Hex()
}

// SignMessage implements Signer using the standard Ethereum
// personal_sign prefix, so the recovered signer matches what a verifying
// agent's crypto.Ecrecover-based check expects.
func (c *EthClient) SignMessage(ctx context.Context, text string) ([]byte, error) {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(text), text)
	digest := crypto.Keccak256Hash([]byte(prefixed))
	sig, err := crypto.Sign(digest.Bytes(), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain: sign message: %w", err)
	}
	// crypto.Sign's recovery id is 0/1; the Ethereum convention used by
	// on-chain Ecrecover callers is 27/28.
	if len(sig) == 65 {
		sig[64] += 27
	}
	return sig, nil
}

// CallContract implements RPC: builds, signs, and broadcasts a transaction
// invoking method on contractAddr.
func (c *EthClient) CallContract(ctx context.Context, contractAddr string, abiJSON string, method string, args ...any) (string, error) {
	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("chain: parse abi: %w", err)
	}
	args, err = convertArgs(parsedABI, method, args)
	if err != nil {
		return "", fmt.Errorf("chain: convert args for %s: %w", method, err)
	}
	input, err := parsedABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}

	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: fetch chain id: %w", err)
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("chain: fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: suggest gas price: %w", err)
	}

	to := common.HexToAddress(contractAddr)
	gasLimit, err := c.eth.EstimateGas(ctx, callMsg(c.address, to, input))
	if err != nil {
		gasLimit = 200000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("chain: broadcast transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForReceipt implements RPC by polling for the transaction receipt
// until ctx is done.
func (c *EthClient) WaitForReceipt(ctx context.Context, txHash string) (Receipt, error) {
	hash := common.HexToHash(txHash)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return Receipt{
				Status:      receipt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      txHash,
			}, nil
		}
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("chain: wait for receipt %s: %w", txHash, ctx.Err())
		default:
		}
	}
}

// ReadContract implements RPC: a view call, decoded by the ABI's first
// declared output.
func (c *EthClient) ReadContract(ctx context.Context, contractAddr string, abiJSON string, method string, args ...any) (any, error) {
	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	args, err = convertArgs(parsedABI, method, args)
	if err != nil {
		return nil, fmt.Errorf("chain: convert args for %s: %w", method, err)
	}
	input, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	to := common.HexToAddress(contractAddr)
	out, err := c.eth.CallContract(ctx, callMsg(c.address, to, input), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}

	results, err := parsedABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func callMsg(from, to common.Address, data []byte) gethereum.CallMsg {
	return gethereum.CallMsg{From: from, To: &to, Data: data}
}

// convertArgs coerces each arg to the type parsedABI declares for method's
// corresponding input, the way NuyoahCh-OpenMCP-Chain's web3 client does
// before packing: callers supply hex-string addresses (the coordinator's
// PayTo/Asset/Signer.Address() are all strings), but abi.Pack requires a
// common.Address for a "type":"address" input, or it fails type checking.
func convertArgs(parsedABI abi.ABI, method string, args []any) ([]any, error) {
	m, ok := parsedABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", method)
	}
	if len(m.Inputs) != len(args) {
		return args, nil // let Pack report the arity mismatch
	}
	converted := make([]any, len(args))
	for i, arg := range args {
		if m.Inputs[i].Type.T == abi.AddressTy {
			if s, ok := arg.(string); ok {
				converted[i] = common.HexToAddress(s)
				continue
			}
		}
		converted[i] = arg
	}
	return converted, nil
}
