// Package payment implements a "payment-required challenge / signed
// authorization / on-chain transfer / retry-with-proof" protocol: when an
// agent responds with a 402 challenge, the coordinator signs an
// authorization, settles it on-chain through the approve/allowance/transfer
// ERC-20 pattern, and retries the original call with proof attached.
//
// The payment-requirement/authorization field shapes are grounded on
// avidreder-agent-mcp-demo's X402PaymentRequirements (accepts/payTo/
// maxAmountRequired/network/asset/...), modeling the 402 response as a
// first-class PaymentChallenge result variant rather than a thrown
// exception. The on-chain leg is grounded on NuyoahCh-OpenMCP-Chain's
// internal/web3/ethereum/client.go wiring of go-ethereum's abi/bind stack
// for contract calls.
package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/useVega/vega-protocol/internal/caller"
	"github.com/useVega/vega-protocol/internal/chain"
	"github.com/useVega/vega-protocol/internal/xerrors"
)

// Authorization is the signed proof attached to a retried call.
type Authorization struct {
	From        string
	To          string
	Value       *big.Int
	ValidAfter  int64
	ValidBefore int64
	Nonce       [32]byte
	Signature   []byte
	Challenge   caller.PaymentRequirement
}

// Record is what the coordinator remembers about a (run, node)'s payment so
// a retry never re-executes the on-chain transfer once one has succeeded.
type Record struct {
	TxHash        string
	Authorization Authorization
}

// Config bounds what the coordinator is willing to pay and which signer/RPC
// it pays with.
type Config struct {
	MaxPaymentAtomic *big.Int
	Signer           chain.Signer
	RPC              chain.RPC
}

// Coordinator wraps an AgentCaller so that 402 responses are transparently
// satisfied.
type Coordinator struct {
	caller *caller.Caller
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	records map[string]Record // keyed by idempotency key, e.g. "<runID>:<nodeID>"
}

// New constructs a Coordinator. cfg.Signer/cfg.RPC may be nil only if the
// caller never invokes a paywalled agent; a nil Signer causes CallPaid to
// fail with PaymentError the first time a 402 is observed.
func New(c *caller.Caller, cfg Config, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		caller:  c,
		cfg:     cfg,
		logger:  logger,
		records: make(map[string]Record),
	}
}

// CallPaid attempts the unpaid call first; if the agent responds with a 402
// challenge, it signs and settles payment, then retries once with proof
// attached. idempotencyKey scopes the "at most one on-chain transfer"
// guarantee and should be unique per (run, node).
func (c *Coordinator) CallPaid(ctx context.Context, idempotencyKey, endpointBase string, inputs map[string]any, contextID string) (*caller.Result, error) {
	result, err := c.caller.Call(ctx, endpointBase, inputs, contextID)
	if err == nil {
		return result, nil
	}

	challenge, ok := caller.AsPaymentChallenge(err)
	if !ok {
		return nil, err
	}
	if len(challenge.Accepts) == 0 {
		return nil, xerrors.New(xerrors.CodePayment, "payment challenge carried no requirements")
	}
	requirement := challenge.Accepts[0]

	if c.cfg.Signer == nil || c.cfg.RPC == nil {
		return nil, xerrors.New(xerrors.CodePayment, "no signer configured: paywalled agent cannot be paid")
	}

	record, err := c.settle(ctx, idempotencyKey, requirement)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"paymentProvided": true,
		"paymentProof": map[string]any{
			"from":        record.Authorization.From,
			"to":          record.Authorization.To,
			"value":       record.Authorization.Value.String(),
			"validAfter":  record.Authorization.ValidAfter,
			"validBefore": record.Authorization.ValidBefore,
			"nonce":       fmt.Sprintf("%x", record.Authorization.Nonce),
			"signature":   fmt.Sprintf("%x", record.Authorization.Signature),
		},
		"paymentRequirements": requirement,
		"transactionHash":     record.TxHash,
		"network":             requirement.Network,
		"payer":               record.Authorization.From,
	}

	retryResult, err := c.caller.CallWithMetadata(ctx, endpointBase, inputs, contextID, metadata)
	if err != nil {
		if _, stillChallenge := caller.AsPaymentChallenge(err); stillChallenge {
			return nil, xerrors.Wrap(xerrors.CodePayment, err, "agent rejected payment proof")
		}
		return nil, err
	}
	return retryResult, nil
}

// settle produces (or reuses) the on-chain transfer satisfying requirement,
// never executing a second transfer for a key that already has a recorded
// transaction hash.
func (c *Coordinator) settle(ctx context.Context, idempotencyKey string, requirement caller.PaymentRequirement) (Record, error) {
	c.mu.Lock()
	if existing, ok := c.records[idempotencyKey]; ok && existing.TxHash != "" {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	maxRequired, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok {
		return Record{}, xerrors.New(xerrors.CodePayment, "malformed maxAmountRequired: "+requirement.MaxAmountRequired)
	}
	if c.cfg.MaxPaymentAtomic != nil && maxRequired.Cmp(c.cfg.MaxPaymentAtomic) > 0 {
		return Record{}, xerrors.New(xerrors.CodePayment, "payment requirement exceeds configured cap")
	}

	from := c.cfg.Signer.Address()
	now := time.Now().Unix()
	validBefore := now + int64(requirement.MaxTimeoutSeconds)

	canonical := fmt.Sprintf("Chain ID: %s\nContract: %s\nUser: %s\nReceiver: %s\nAmount: %s\n",
		requirement.Network, requirement.Asset, from, requirement.PayTo, maxRequired.String())

	signature, err := c.cfg.Signer.SignMessage(ctx, canonical)
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodePayment, err, "sign payment authorization")
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodePayment, err, "generate payment nonce")
	}

	auth := Authorization{
		From:        from,
		To:          requirement.PayTo,
		Value:       maxRequired,
		ValidAfter:  now,
		ValidBefore: validBefore,
		Nonce:       nonce,
		Signature:   signature,
		Challenge:   requirement,
	}

	if err := c.ensureAllowance(ctx, requirement.Asset, requirement.PayTo, maxRequired); err != nil {
		return Record{}, err
	}

	txHash, err := c.cfg.RPC.CallContract(ctx, requirement.Asset, chain.ERC20ABI, "transfer", requirement.PayTo, maxRequired)
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodePayment, err, "execute stablecoin transfer")
	}
	receipt, err := c.cfg.RPC.WaitForReceipt(ctx, txHash)
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodePayment, err, "await transfer confirmation")
	}
	if !receipt.Status {
		return Record{}, xerrors.New(xerrors.CodePayment, "on-chain transfer reverted: "+txHash)
	}

	record := Record{TxHash: txHash, Authorization: auth}
	c.mu.Lock()
	c.records[idempotencyKey] = record
	c.mu.Unlock()
	return record, nil
}

// ensureAllowance reads the signer's current allowance for spender and, if
// it is insufficient to cover value, approves 110% of value and waits for
// confirmation before returning.
func (c *Coordinator) ensureAllowance(ctx context.Context, asset, spender string, value *big.Int) error {
	from := c.cfg.Signer.Address()
	raw, err := c.cfg.RPC.ReadContract(ctx, asset, chain.ERC20ABI, "allowance", from, spender)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePayment, err, "read stablecoin allowance")
	}
	current, ok := raw.(*big.Int)
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	if current.Cmp(value) >= 0 {
		return nil
	}

	topUp := new(big.Int).Mul(value, big.NewInt(110))
	topUp.Div(topUp, big.NewInt(100))

	txHash, err := c.cfg.RPC.CallContract(ctx, asset, chain.ERC20ABI, "approve", spender, topUp)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePayment, err, "approve stablecoin allowance")
	}
	receipt, err := c.cfg.RPC.WaitForReceipt(ctx, txHash)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePayment, err, "await approval confirmation")
	}
	if !receipt.Status {
		return xerrors.New(xerrors.CodePayment, "allowance approval reverted: "+txHash)
	}
	return nil
}

// RecordFor returns what the coordinator remembers about idempotencyKey, if
// anything. The engine looks the record up after a paid node completes, but
// NodeRun has no transaction-hash field, so the hash is not copied into it.
func (c *Coordinator) RecordFor(idempotencyKey string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[idempotencyKey]
	return r, ok
}

// AtomicFromString parses an atomic-unit decimal string (such as a
// challenge's maxAmountRequired) into the big.Int this package uses for
// on-chain values.
func AtomicFromString(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, "invalid atomic amount: "+s)
	}
	return v, nil
}

// FormatAtomic renders amount as a plain base-10 string for the
// maxAmountRequired / value wire fields.
func FormatAtomic(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}
