package ledger

import (
	"fmt"
	"sync"

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
	SubTypeProtocolTreasury
	SubTypeCreatorPayout
	SubTypeBurnPending
	SubTypeEscrow

	// External sub-types
	SubTypeExternalVenue
	SubTypeExternalBurnSink
	SubTypeExternalGateway // counterparty for deposits and seed mints
)

// AssetID maps asset symbols to numeric IDs for performance
type AssetID uint16

// FundingAssetID is the pre-registered funding asset (the asset trades
// are paid in). Token assets are registered per deployed instance.
const FundingAssetID AssetID = 1

var (
	registryMu sync.RWMutex
	assetToID  = map[string]AssetID{
		"ETH": FundingAssetID,
	}
	idToAsset = map[AssetID]string{
		FundingAssetID: "ETH",
	}
	nextAssetID AssetID = 2
)

// RegisterAsset assigns an AssetID to a new symbol. Registering an already
// known symbol returns its existing ID.
func RegisterAsset(symbol string) AssetID {
	registryMu.Lock()
	defer registryMu.Unlock()

	if id, ok := assetToID[symbol]; ok {
		return id
	}
	id := nextAssetID
	nextAssetID++
	assetToID[symbol] = id
	idToAsset[id] = symbol
	return id
}

func GetAssetID(symbol string) (AssetID, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	id, ok := assetToID[symbol]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (20 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name bytes for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user wallets
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
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

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
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
	case SubTypeProtocolTreasury:
		return "protocol_treasury"
	case SubTypeCreatorPayout:
		return "creator_payout"
	case SubTypeBurnPending:
		return "burn_pending"
	case SubTypeEscrow:
		return "escrow"
	case SubTypeExternalVenue:
		return "venue"
	case SubTypeExternalBurnSink:
		return "burn_sink"
	case SubTypeExternalGateway:
		return "gateway"
	default:
		return "unknown"
	}
}
