// Package chain defines the narrow signer/RPC abstraction the payment
// coordinator depends on and a go-ethereum-backed implementation of it.
//
// The interface shape — dial once, keep a *ethclient.Client plus the signing
// key, expose contract call/read and receipt helpers — is grounded on
// NuyoahCh-OpenMCP-Chain's internal/web3/ethereum/client.go, which
// wires the same go-ethereum stack (gethrpc.DialContext, ethclient.Client,
// abi.JSON, bind helpers) for the same "small set of RPC verbs an agent
// layer needs" purpose.
package chain

import "context"

// Signer produces signatures over arbitrary text using a held private key,
// without ever exposing that key to callers.
type Signer interface {
	// Address returns the signer's checksummed hex address.
	Address() string
	// SignMessage signs text with the Ethereum personal-message prefix and
	// returns the raw 65-byte signature.
	SignMessage(ctx context.Context, text string) ([]byte, error)
}

// Receipt is the outcome of waiting for a transaction to be mined.
type Receipt struct {
	Status      bool
	BlockNumber uint64
	TxHash      string
}

// RPC is the minimal on-chain read/write surface the payment coordinator
// needs: call a contract method (a state-changing transaction), wait for
// its receipt, and read a contract method (a view call).
type RPC interface {
	// CallContract sends a transaction invoking method on contractAddr with
	// args, ABI-encoded per abiJSON, and returns the transaction hash.
	CallContract(ctx context.Context, contractAddr string, abiJSON string, method string, args ...any) (txHash string, err error)
	// WaitForReceipt blocks until txHash is mined (or ctx is done).
	WaitForReceipt(ctx context.Context, txHash string) (Receipt, error)
	// ReadContract performs a view call to method on contractAddr and
	// decodes the first return value into a generic representation.
	ReadContract(ctx context.Context, contractAddr string, abiJSON string, method string, args ...any) (any, error)
}

// ERC20ABI is the standard subset of the ERC-20 interface the stablecoin
// transfer flow needs: balanceOf, allowance, approve, transfer.
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`
