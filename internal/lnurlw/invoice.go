package lnurlw

import (
	"fmt"

	"boltcard-withdraw-server/internal/apierr"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// decodeAmountMsats parses a BOLT-11 invoice string and extracts its amount.
// An invoice without an explicit amount is rejected: the card programmer
// never lets a terminal request an open-ended sum.
func decodeAmountMsats(bolt11 string, net *chaincfg.Params) (int64, error) {
	decoded, err := zpay32.Decode(bolt11, net)
	if err != nil {
		return 0, apierr.New(apierr.InvoiceInvalid, "invoice could not be parsed", err)
	}
	if decoded.MilliSat == nil {
		return 0, apierr.New(apierr.InvoiceInvalid, "invoice does not carry an explicit amount", nil)
	}
	return int64(*decoded.MilliSat), nil
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
