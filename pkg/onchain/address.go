package onchain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
)

// ValidateAddress checks that addr belongs to chain by decoding it into an
// output script and re-encoding it for chain's network. Confidential
// addresses are checked in both their blinded and unconfidential form. The
// returned address is normalized and validating it again yields itself.
func ValidateAddress(addr string, chain *Chain) (string, error) {
	addr = strings.TrimSpace(addr)
	if strings.ToUpper(addr) == addr {
		addr = strings.ToLower(addr)
	}

	var (
		normalized string
		err        error
	)
	if chain.Kind == Confidential {
		normalized, err = validateLiquidAddress(addr, chain.Liquid)
	} else {
		normalized, err = validateBitcoinAddress(addr, chain)
	}
	if err != nil {
		return "", &AddressValidationError{Address: addr, Network: chain.Name(), Reason: err.Error()}
	}
	if normalized != addr {
		return "", &AddressValidationError{Address: addr, Network: chain.Name()}
	}
	return normalized, nil
}

// AddressScript returns the output script paid by addr. Confidential
// addresses resolve to the script of their unconfidential form.
func AddressScript(addr string, chain *Chain) ([]byte, error) {
	if chain.Kind == Confidential {
		if isConfidential(addr) {
			info, err := address.FromConfidential(addr)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid confidential address: %s", ErrInvalidInput, err)
			}
			return info.Script, nil
		}
		script, err := address.ToOutputScript(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid address: %s", ErrInvalidInput, err)
		}
		return script, nil
	}

	decoded, err := btcutil.DecodeAddress(addr, chain.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid address: %s", ErrInvalidInput, err)
	}
	if !decoded.IsForNet(chain.Params) {
		return nil, fmt.Errorf("%w: address %s is not for %s", ErrInvalidInput, addr, chain.Name())
	}
	return payToAddrScript(decoded)
}

func validateBitcoinAddress(addr string, chain *Chain) (string, error) {
	decoded, err := btcutil.DecodeAddress(addr, chain.Params)
	if err != nil {
		return "", err
	}
	if !decoded.IsForNet(chain.Params) {
		return "", fmt.Errorf("address belongs to another network")
	}

	script, err := payToAddrScript(decoded)
	if err != nil {
		return "", err
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, chain.Params)
	if err != nil {
		return "", err
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("non standard output script")
	}
	return addrs[0].EncodeAddress(), nil
}

func validateLiquidAddress(addr string, net *network.Network) (string, error) {
	if !isConfidential(addr) {
		return encodeUnconfidential(addr, net)
	}

	info, err := address.FromConfidential(addr)
	if err != nil {
		return "", err
	}
	if _, err := encodeUnconfidential(info.Address, net); err != nil {
		return "", err
	}
	return address.ToConfidential(info)
}

// encodeUnconfidential round trips an unconfidential Liquid address and
// rejects prefixes of other networks.
func encodeUnconfidential(addr string, net *network.Network) (string, error) {
	if hrp, data, version, err := bech32.DecodeGeneric(addr); err == nil {
		if hrp != net.Bech32 {
			return "", fmt.Errorf("unexpected prefix %s", hrp)
		}
		if version == bech32.VersionM {
			return bech32.EncodeM(hrp, data)
		}
		return bech32.Encode(hrp, data)
	}

	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", err
	}
	if version != net.PubKeyHash && version != net.ScriptHash {
		return "", fmt.Errorf("unexpected version byte %d", version)
	}
	if len(payload) != 20 {
		return "", fmt.Errorf("unexpected payload length %d", len(payload))
	}
	return base58.CheckEncode(payload, version), nil
}

func isConfidential(addr string) bool {
	ok, err := address.IsConfidential(addr)
	return err == nil && ok
}

func payToAddrScript(addr btcutil.Address) ([]byte, error) {
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash,
		*btcutil.AddressScriptHash,
		*btcutil.AddressWitnessPubKeyHash,
		*btcutil.AddressWitnessScriptHash,
		*btcutil.AddressTaproot:
		return txscript.PayToAddrScript(addr)
	default:
		return nil, fmt.Errorf("%w: unsupported address type %T", ErrInvalidInput, addr)
	}
}
