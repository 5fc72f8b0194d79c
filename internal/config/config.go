// Package config loads the orchestrator's JSON configuration file and
// overlays an environment-variable surface on top of it, following the
// common convention of reading deployment knobs (GRPC_PORT, DATABASE_URL)
// from the environment after the file is parsed.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/useVega/vega-protocol/internal/xerrors"
)

// ChainDefinition names one chain the PaymentCoordinator may settle on:
// its RPC endpoint and the native settlement token's contract address.
type ChainDefinition struct {
	Name          string `json:"name"`
	RPCURL        string `json:"rpcUrl"`
	TokenContract string `json:"tokenContract"`
}

// Config is the orchestrator's full static configuration.
type Config struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	// DatabaseURL, when non-empty, selects the Postgres-backed RunStore
	// over the in-memory default.
	DatabaseURL string `json:"databaseUrl"`

	// Chains is the ChainRegistry that ResolveChain consults. Neither the
	// validator nor the payment coordinator checks a workflow's chain or a
	// challenge's network against it.
	Chains []ChainDefinition `json:"chains"`

	// PaymentNetwork names the network the payment signer/RPC client is
	// dialed for. The coordinator pays over that client whatever network a
	// 402 challenge names.
	PaymentNetwork string `json:"paymentNetwork"`
	// SignerKeyHex is the hex-encoded ECDSA private key backing the
	// PaymentCoordinator's signer. Never logged.
	SignerKeyHex string `json:"signerKeyHex"`
	// MerchantAddress is this operator's own payout address, used when the
	// orchestrator itself is the payee of an agent it also runs.
	MerchantAddress string `json:"merchantAddress"`
	// RPCURL is the default chain RPC endpoint, overridable per-chain via
	// Chains.
	RPCURL string `json:"rpcUrl"`
	// AutoPayment is loaded from the file and AUTO_PAYMENT but is not
	// consulted: the PaymentCoordinator is enabled by SignerKeyHex alone, and
	// a false AutoPayment does not stop it from paying 402 challenges.
	AutoPayment bool `json:"autoPayment"`
	// MaxPaymentAtomic caps any single on-chain payment the coordinator
	// will make, in the settlement token's atomic unit. Zero means
	// unlimited.
	MaxPaymentAtomic uint64 `json:"maxPaymentAtomic"`
}

// Load reads and parses the JSON file at path, applies defaults, then
// overlays the environment-variable surface so deployment secrets never
// need to live in the checked-in file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, xerrors.Wrap(xerrors.CodeValidation, err, "read config file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, xerrors.Wrap(xerrors.CodeValidation, err, "parse config file")
		}
	}
	applyDefaults(&cfg)
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

// applyEnv overlays PAYMENT_NETWORK, SIGNER_KEY, MERCHANT_ADDRESS, RPC_URL,
// AUTO_PAYMENT, and MAX_PAYMENT_ATOMIC onto cfg, each taking precedence over
// the file value when set.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PAYMENT_NETWORK"); ok {
		cfg.PaymentNetwork = v
	}
	if v, ok := os.LookupEnv("SIGNER_KEY"); ok {
		cfg.SignerKeyHex = v
	}
	if v, ok := os.LookupEnv("MERCHANT_ADDRESS"); ok {
		cfg.MerchantAddress = v
	}
	if v, ok := os.LookupEnv("RPC_URL"); ok {
		cfg.RPCURL = v
	}
	if v, ok := os.LookupEnv("AUTO_PAYMENT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "parse AUTO_PAYMENT")
		}
		cfg.AutoPayment = b
	}
	if v, ok := os.LookupEnv("MAX_PAYMENT_ATOMIC"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeValidation, err, "parse MAX_PAYMENT_ATOMIC")
		}
		cfg.MaxPaymentAtomic = n
	}
	return nil
}

// ResolveChain returns the RPC URL configured for chain name, falling back
// to cfg.RPCURL when no per-chain entry matches, or an error if neither is
// set: a payment network that cannot resolve to an RPC endpoint must fail
// fast rather than dial an empty URL.
func (c Config) ResolveChain(name string) (string, error) {
	for _, def := range c.Chains {
		if def.Name == name {
			return def.RPCURL, nil
		}
	}
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	return "", xerrors.New(xerrors.CodePayment, fmt.Sprintf("no RPC endpoint configured for chain %q", name))
}
