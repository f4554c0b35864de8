package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeCustodyVault
	SubTypeInsuranceVault

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDT": 1,
		"USDC": 2,
		"BTC":  3,
		"ETH":  4,
		"SOL":  5,
	}
	idToAsset = map[AssetID]string{
		1: "USDT",
		2: "USDC",
		3: "BTC",
		4: "ETH",
		5: "SOL",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// ProtocolAuthority signs every transfer out of a system account.
var ProtocolAuthority = uuid.MustParse("00000000-0000-0000-0000-00000000fee1")

// AccountKey is the in-memory key for balance tracking (20 bytes + padding)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // wallet owner, insurance vault id, or a name for fixed system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// WalletKey is a user's spendable wallet. Fee destinations and liquidators
// receive into wallets as well.
func WalletKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// CustodyVaultKey holds all deposited margin for an asset.
func CustodyVaultKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey("custody", SubTypeCustodyVault, assetID)
}

// InsuranceVaultKey is the token account backing the insurance fund.
func InsuranceVaultKey(vault uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: vault,
		SubType:  SubTypeInsuranceVault,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for named system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// IsExternal reports whether the account sits outside the venue and may go negative.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		if k.SubType == SubTypeInsuranceVault {
			return fmt.Sprintf("system:%s:%s:%s", k.subTypeName(), uuid.UUID(k.EntityID).String(), assetName)
		}
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCustodyVault:
		return "custody_vault"
	case SubTypeInsuranceVault:
		return "insurance_vault"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	asset := func(name string) (AssetID, error) {
		id, ok := GetAssetID(name)
		if !ok {
			return 0, fmt.Errorf("account path %q: unknown asset %q", path, name)
		}
		return id, nil
	}
	switch {
	case len(parts) == 4 && parts[0] == "user" && parts[2] == "wallet":
		owner, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		id, err := asset(parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return WalletKey(owner, id), nil
	case len(parts) == 4 && parts[0] == "system" && parts[1] == "insurance_vault":
		vault, err := uuid.Parse(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		id, err := asset(parts[3])
		if err != nil {
			return AccountKey{}, err
		}
		return InsuranceVaultKey(vault, id), nil
	case len(parts) == 3 && parts[0] == "system" && parts[1] == "custody_vault":
		id, err := asset(parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		return CustodyVaultKey(id), nil
	case len(parts) == 3 && parts[0] == "external":
		id, err := asset(parts[2])
		if err != nil {
			return AccountKey{}, err
		}
		switch parts[1] {
		case "deposits":
			return NewExternalAccountKey(SubTypeExternalDeposits, id), nil
		case "withdrawals":
			return NewExternalAccountKey(SubTypeExternalWithdrawals, id), nil
		}
	}
	return AccountKey{}, fmt.Errorf("unrecognized account path %q", path)
}
