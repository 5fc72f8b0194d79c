package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConvertArgsCoercesHexStringsToAddress exercises the ERC20ABI transfer
// path: the coordinator supplies string addresses (PayTo, Signer.Address()),
// but abi.Pack requires common.Address for a "type":"address" input.
func TestConvertArgsCoercesHexStringsToAddress(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)

	to := "0x000000000000000000000000000000000000aa"
	args, err := convertArgs(parsedABI, "transfer", []any{to, big.NewInt(1000)})
	require.NoError(t, err)
	require.Len(t, args, 2)

	addr, ok := args[0].(common.Address)
	require.True(t, ok, "expected args[0] to be converted to common.Address, got %T", args[0])
	assert.Equal(t, common.HexToAddress(to), addr)
	assert.Equal(t, big.NewInt(1000), args[1])

	// The converted args must actually pack without error — the real bug
	// this guards against was Pack rejecting a raw string for an address
	// input.
	_, err = parsedABI.Pack("transfer", args...)
	require.NoError(t, err)
}

func TestConvertArgsCoercesBothAddressesInAllowance(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)

	owner := "0x000000000000000000000000000000000000aa"
	spender := "0x000000000000000000000000000000000000bb"
	args, err := convertArgs(parsedABI, "allowance", []any{owner, spender})
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, common.HexToAddress(owner), args[0])
	assert.Equal(t, common.HexToAddress(spender), args[1])

	_, err = parsedABI.Pack("allowance", args...)
	require.NoError(t, err)
}

func TestConvertArgsLeavesNonAddressArgsUntouched(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)

	args, err := convertArgs(parsedABI, "approve", []any{"0x000000000000000000000000000000000000aa", big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), args[1])
}

func TestConvertArgsRejectsUnknownMethod(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)

	_, err = convertArgs(parsedABI, "notAMethod", []any{"x"})
	require.Error(t, err)
}

func TestConvertArgsPassesThroughArityMismatch(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	require.NoError(t, err)

	args, err := convertArgs(parsedABI, "transfer", []any{"only-one-arg"})
	require.NoError(t, err)
	assert.Equal(t, []any{"only-one-arg"}, args)
}
