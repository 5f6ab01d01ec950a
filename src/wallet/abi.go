package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const walletABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}
	],"outputs":[{"name":"result","type":"bytes"}]},
	{"type":"function","name":"executeBatch","inputs":[
		{"name":"to","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"data","type":"bytes[]"}
	],"outputs":[]},
	{"type":"function","name":"setup","inputs":[
		{"name":"owners","type":"address[]"},{"name":"threshold","type":"uint256"},
		{"name":"fallbackHandler","type":"address"},{"name":"recoveryModule","type":"address"},
		{"name":"guardians","type":"address[]"},{"name":"guardianThreshold","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"setupSocialRecovery","inputs":[
		{"name":"guardians","type":"address[]"},{"name":"threshold","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"swapOwner","inputs":[
		{"name":"prevOwner","type":"address"},{"name":"oldOwner","type":"address"},{"name":"newOwner","type":"address"}
	],"outputs":[]},
	{"type":"function","name":"changeThreshold","inputs":[
		{"name":"threshold","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"recoverAccess","inputs":[
		{"name":"prevOwner","type":"address"},{"name":"oldOwner","type":"address"},
		{"name":"newOwner","type":"address"},{"name":"signatures","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"execTransaction","inputs":[
		{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
		{"name":"callGas","type":"uint256"},{"name":"baseGas","type":"uint256"},{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},{"name":"signatures","type":"bytes"}
	],"outputs":[{"name":"success","type":"bool"},{"name":"paid","type":"bool"},{"name":"payment","type":"uint256"}]},
	{"type":"function","name":"getOwners","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"getThreshold","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"nonce","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAccount","inputs":[
		{"name":"owners","type":"address[]"},{"name":"threshold","type":"uint256"},
		{"name":"guardians","type":"address[]"},{"name":"guardianThreshold","type":"uint256"},
		{"name":"salt","type":"uint256"}
	],"outputs":[]}
]`

var (
	walletABI  = mustParseABI(walletABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// maxSigners bounds owner and guardian counts decoded from call data.
const maxSigners = 256

func toCount(v *big.Int) (int, error) {
	if v == nil || v.Sign() < 0 || v.Cmp(big.NewInt(maxSigners)) > 0 {
		return 0, fmt.Errorf("count %v out of range", v)
	}
	return int(v.Int64()), nil
}
