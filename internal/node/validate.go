package node

import (
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
)

// validateAddress performs an offline structural check of an address:
// base58check for legacy addresses, bech32 with the coin's HRP for segwit
// addresses. It does not check the version byte against the network, since
// the hosted backend ultimately rejects foreign addresses on broadcast.
func validateAddress(address, hrp string) bool {
	if address == "" {
		return false
	}

	if hrp != "" && strings.HasPrefix(strings.ToLower(address), hrp+"1") {
		decoded, _, err := bech32.Decode(strings.ToLower(address))
		return err == nil && decoded == hrp
	}

	_, _, err := base58.CheckDecode(address)
	return err == nil
}
