package domain

import (
	"regexp"
	"strings"
)

// NetworkID identifies a chain network, e.g. "1" for Ethereum mainnet.
type NetworkID string

// AddressFamily groups networks that share an address format.
type AddressFamily string

const (
	FamilyEVM     AddressFamily = "evm"
	FamilyTron    AddressFamily = "tron"
	FamilyBitcoin AddressFamily = "bitcoin"
	FamilySolana  AddressFamily = "solana"
)

const (
	NetworkEthereum NetworkID = "1"
	NetworkOptimism NetworkID = "10"
	NetworkBSC      NetworkID = "56"
	NetworkPolygon  NetworkID = "137"
	NetworkBase     NetworkID = "8453"
	NetworkArbitrum NetworkID = "42161"
	NetworkSepolia  NetworkID = "11155111"
	NetworkTron     NetworkID = "tron"
	NetworkBitcoin  NetworkID = "bitcoin"
	NetworkSolana   NetworkID = "solana"
)

// Network describes a supported network.
type Network struct {
	ID     NetworkID
	Name   string
	Family AddressFamily
}

// Networks maps every supported network to its description.
var Networks = map[NetworkID]Network{
	NetworkEthereum: {NetworkEthereum, "ETHEREUM_MAINNET", FamilyEVM},
	NetworkOptimism: {NetworkOptimism, "OPTIMISM_MAINNET", FamilyEVM},
	NetworkBSC:      {NetworkBSC, "BSC_MAINNET", FamilyEVM},
	NetworkPolygon:  {NetworkPolygon, "POLYGON_MAINNET", FamilyEVM},
	NetworkBase:     {NetworkBase, "BASE_MAINNET", FamilyEVM},
	NetworkArbitrum: {NetworkArbitrum, "ARBITRUM_MAINNET", FamilyEVM},
	NetworkSepolia:  {NetworkSepolia, "ETHEREUM_SEPOLIA", FamilyEVM},
	NetworkTron:     {NetworkTron, "TRON_MAINNET", FamilyTron},
	NetworkBitcoin:  {NetworkBitcoin, "BITCOIN_MAINNET", FamilyBitcoin},
	NetworkSolana:   {NetworkSolana, "SOLANA_MAINNET", FamilySolana},
}

var (
	evmAddress    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	tronAddress   = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
	btcLegacy     = regexp.MustCompile(`^[13][1-9A-HJ-NP-Za-km-z]{25,34}$`)
	btcBech32     = regexp.MustCompile(`^bc1[02-9ac-hj-np-z]{11,71}$`)
	solanaAddress = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// NormalizeAddress validates address against the format rule of network and
// returns its canonical form. EVM and bech32 addresses are case-insensitive
// and canonicalized to lower case so that uniqueness cannot be bypassed by
// changing case.
func NormalizeAddress(network NetworkID, address string) (string, error) {
	const op = "domain.NormalizeAddress"
	n, ok := Networks[network]
	if !ok {
		return "", Validationf(op, "network", ErrUnknownNetwork, "%q", network)
	}
	address = strings.TrimSpace(address)

	switch n.Family {
	case FamilyEVM:
		if evmAddress.MatchString(address) {
			return strings.ToLower(address), nil
		}
	case FamilyTron:
		if tronAddress.MatchString(address) {
			return address, nil
		}
	case FamilyBitcoin:
		if lower := strings.ToLower(address); btcBech32.MatchString(lower) {
			return lower, nil
		}
		if btcLegacy.MatchString(address) {
			return address, nil
		}
	case FamilySolana:
		if solanaAddress.MatchString(address) {
			return address, nil
		}
	}
	return "", Validationf(op, "address", ErrInvalidAddressFormat, "%q is not a valid %s address", address, n.Name)
}

// NormalizeToken canonicalizes an optional token contract address. Tokens on
// EVM networks are lower-cased; others are only trimmed. An empty result means
// the native asset.
func NormalizeToken(network NetworkID, token *string) (string, error) {
	if token == nil || strings.TrimSpace(*token) == "" {
		return "", nil
	}
	return NormalizeAddress(network, *token)
}
