package wallet

import (
	"sync"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// Wallet holds a key pair bound to one chain and builds signed
// transactions, tracking the next nonce locally.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string

	mu    sync.Mutex
	nonce uint64
}

// New creates a Wallet for chainID from an existing private key.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key, the wallet's identity.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// SetNonce sets the nonce the next transaction will carry, e.g. after
// reading it from the server.
func (w *Wallet) SetNonce(n uint64) {
	w.mu.Lock()
	w.nonce = n
	w.mu.Unlock()
}

// Nonce returns the nonce the next transaction will carry.
func (w *Wallet) Nonce() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nonce
}

// NewTx creates a signed transaction with the next nonce.
func (w *Wallet) NewTx(typ core.TxType, payload any) (*core.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), w.nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	w.nonce++
	return tx, nil
}

// Transfer creates a signed token transfer.
func (w *Wallet) Transfer(to string, amount uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, core.TransferPayload{To: to, Amount: amount})
}

// RegisterCollection creates a collection owned by the wallet.
func (w *Wallet) RegisterCollection(id, name string) (*core.Transaction, error) {
	return w.NewTx(core.TxRegisterCollection, core.RegisterCollectionPayload{ID: id, Name: name})
}

// Mint mints an asset into a collection the wallet created. An empty owner
// mints to the wallet itself.
func (w *Wallet) Mint(collection, assetID, owner, uri string) (*core.Transaction, error) {
	return w.NewTx(core.TxMintAsset, core.MintAssetPayload{
		Collection: collection,
		AssetID:    assetID,
		Owner:      owner,
		URI:        uri,
	})
}

// SetApproval approves or revokes operator for all of the wallet's assets.
// Listing requires approving the marketplace escrow address first.
func (w *Wallet) SetApproval(operator string, approved bool) (*core.Transaction, error) {
	return w.NewTx(core.TxSetApproval, core.SetApprovalPayload{Operator: operator, Approved: approved})
}

// List lists an asset the wallet holds at price.
func (w *Wallet) List(collection, assetID string, price uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxListNFT, core.ListNFTPayload{Collection: collection, AssetID: assetID, Price: price})
}

func (w *Wallet) ChangePrice(collection, assetID string, price uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxChangePrice, core.ChangePricePayload{Collection: collection, AssetID: assetID, Price: price})
}

func (w *Wallet) Unlist(collection, assetID string) (*core.Transaction, error) {
	return w.NewTx(core.TxUnlistNFT, core.UnlistNFTPayload{Collection: collection, AssetID: assetID})
}

// Purchase buys a listing, paying at most payment.
func (w *Wallet) Purchase(collection, assetID string, payment uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxPurchaseNFT, core.PurchaseNFTPayload{Collection: collection, AssetID: assetID, Payment: payment})
}

func (w *Wallet) SetFeeRate(rate uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxSetFeeRate, core.SetFeeRatePayload{FeeRate: rate})
}

func (w *Wallet) TransferAsset(collection, assetID, to string) (*core.Transaction, error) {
	return w.NewTx(core.TxTransferAsset, core.TransferAssetPayload{Collection: collection, AssetID: assetID, To: to})
}

func (w *Wallet) Burn(collection, assetID string) (*core.Transaction, error) {
	return w.NewTx(core.TxBurnAsset, core.BurnAssetPayload{Collection: collection, AssetID: assetID})
}
