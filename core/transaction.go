package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmarket/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer           TxType = "transfer"
	TxRegisterCollection TxType = "register_collection"
	TxMintAsset          TxType = "mint_asset"
	TxBurnAsset          TxType = "burn_asset"
	TxTransferAsset      TxType = "transfer_asset"
	TxSetApproval        TxType = "set_approval"
	TxListNFT            TxType = "list_nft"
	TxChangePrice        TxType = "change_price"
	TxUnlistNFT          TxType = "unlist_nft"
	TxPurchaseNFT        TxType = "purchase_nft"
	TxSetFeeRate         TxType = "set_fee_rate"
)

// Transaction is a signed request against the marketplace.
// From holds the sender's full hex-encoded ed25519 public key (64 chars) and
// is the caller identity every operation authorizes against.
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves native tokens between accounts.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// RegisterCollectionPayload creates a new collection owned by the sender.
type RegisterCollectionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MintAssetPayload mints a new asset into a collection the sender created.
type MintAssetPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Owner      string `json:"owner"` // recipient pubkey hex; empty means sender
	URI        string `json:"uri"`
}

// BurnAssetPayload permanently destroys an asset.
type BurnAssetPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
}

// TransferAssetPayload moves an asset to a new owner outside the market.
type TransferAssetPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	To         string `json:"to"`
}

// SetApprovalPayload lets Operator move all of the sender's assets.
type SetApprovalPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// ListNFTPayload deposits an asset into custody and lists it.
type ListNFTPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Price      uint64 `json:"price"`
}

// ChangePricePayload updates the price of an active listing.
type ChangePricePayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Price      uint64 `json:"price"`
}

// UnlistNFTPayload withdraws a listing and returns the asset.
type UnlistNFTPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
}

// PurchaseNFTPayload buys a listing. Payment is the most the buyer is
// willing to pay; anything above price + fee is refunded.
type PurchaseNFTPayload struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
	Payment    uint64 `json:"payment"`
}

// SetFeeRatePayload changes the marketplace fee (basis points).
type SetFeeRatePayload struct {
	FeeRate uint64 `json:"fee_rate"`
}
