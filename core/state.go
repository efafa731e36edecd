package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Account holds an identity's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Collection is a registered namespace of assets. Only its creator may mint.
type Collection struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"` // pubkey hex of registrant
}

// Asset is a single non-fungible token identified by (Collection, ID).
type Asset struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Owner      string `json:"owner"` // pubkey hex, or the marketplace escrow while listed
	URI        string `json:"uri,omitempty"`
	MintedAt   int64  `json:"minted_at"`
}

// Listing is an asset held in marketplace custody and offered at Price.
// Only active listings are stored; unlisting or selling deletes the entry.
type Listing struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Seller     string `json:"seller"` // pubkey hex
	Price      uint64 `json:"price"`  // smallest unit, fee excluded
	Active     bool   `json:"active"`
	ListedAt   int64  `json:"listed_at"`
}

// MarketInfo is the process-wide marketplace record.
type MarketInfo struct {
	FeeRate       uint64 `json:"fee_rate"` // basis points
	Operator      string `json:"operator"` // pubkey hex, immutable once set
	TotalListings uint64 `json:"total_listings"`
	TotalSales    uint64 `json:"total_sales"`
}

// AssetKey returns an unambiguous key for (collection, id). The length prefix
// keeps ("a:b","c") and ("a","b:c") apart.
func AssetKey(collection, id string) string {
	return fmt.Sprintf("%d:%s:%s", len(collection), collection, id)
}

// State is the full service state interface. Implementations must be
// snapshot-able so the ledger can roll back failed operations.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Collections
	GetCollection(id string) (*Collection, error)
	SetCollection(c *Collection) error

	// Assets
	GetAsset(collection, id string) (*Asset, error)
	SetAsset(asset *Asset) error
	DeleteAsset(collection, id string) error

	// Operator approvals (owner lets operator move all of its assets)
	IsApprovedForAll(owner, operator string) (bool, error)
	SetApprovalForAll(owner, operator string, approved bool) error

	// Market
	GetListing(collection, assetID string) (*Listing, error)
	SetListing(l *Listing) error
	DeleteListing(collection, assetID string) error
	// GetMarket returns ErrNotFound until the ledger has been initialised.
	GetMarket() (*MarketInfo, error)
	SetMarket(m *MarketInfo) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root over persisted state
	// merged with the current write buffer, without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
