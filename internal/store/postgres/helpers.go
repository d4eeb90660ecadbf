package postgres

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Monetary columns are NUMERIC(78,0). Writes pass the decimal string with an
// explicit ::numeric cast in the query; reads cast back to ::text and parse
// here, keeping amounts exact at any magnitude.

func bigArg(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

func addrArg(a common.Address) string {
	return a.Hex()
}

func parseAddr(s string) common.Address {
	return common.HexToAddress(s)
}
