// Package assets is the built-in asset registry: it records which identity
// holds custody of each (collection, id) and moves custody on request.
package assets

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
)

var (
	ErrAssetNotFound      = errors.New("asset not found")
	ErrAssetExists        = errors.New("asset already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrNotOwner           = errors.New("not the asset owner")
	ErrNotApproved        = errors.New("caller is neither owner nor approved operator")
	ErrNotCreator         = errors.New("only the collection creator can mint")
)

// Registry implements asset ownership on top of core.State. Writes land in
// the state's write buffer, so a ledger revert also undoes custody moves.
type Registry struct {
	state core.State
}

// New returns a Registry over state.
func New(state core.State) *Registry {
	return &Registry{state: state}
}

// RegisterCollection creates collection id owned by creator.
func (r *Registry) RegisterCollection(creator, id, name string) (*core.Collection, error) {
	if id == "" {
		return nil, errors.New("collection id required")
	}
	_, err := r.state.GetCollection(id)
	if err == nil {
		return nil, fmt.Errorf("%w: %q", ErrCollectionExists, id)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("check collection %q: %w", id, err)
	}

	c := &core.Collection{ID: id, Name: name, Creator: creator}
	if err := r.state.SetCollection(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Collection returns a registered collection.
func (r *Registry) Collection(id string) (*core.Collection, error) {
	c, err := r.state.GetCollection(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, id)
	}
	return c, err
}

// Mint creates asset (collection, id) owned by owner. Only the collection's
// creator may mint into it.
func (r *Registry) Mint(caller, collection, id, owner, uri string, mintedAt int64) (*core.Asset, error) {
	if id == "" {
		return nil, errors.New("asset id required")
	}
	if owner == "" {
		return nil, errors.New("owner required")
	}
	c, err := r.Collection(collection)
	if err != nil {
		return nil, err
	}
	if c.Creator != caller {
		return nil, ErrNotCreator
	}
	if _, err := r.Asset(collection, id); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrAssetExists, collection, id)
	} else if !errors.Is(err, ErrAssetNotFound) {
		return nil, err
	}

	a := &core.Asset{Collection: collection, ID: id, Owner: owner, URI: uri, MintedAt: mintedAt}
	if err := r.state.SetAsset(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Burn destroys an asset. Only its current owner may burn it, which also
// rules out assets held in marketplace custody.
func (r *Registry) Burn(caller, collection, id string) (*core.Asset, error) {
	a, err := r.Asset(collection, id)
	if err != nil {
		return nil, err
	}
	if a.Owner != caller {
		return nil, ErrNotOwner
	}
	if err := r.state.DeleteAsset(collection, id); err != nil {
		return nil, err
	}
	return a, nil
}

// Asset returns the asset record.
func (r *Registry) Asset(collection, id string) (*core.Asset, error) {
	a, err := r.state.GetAsset(collection, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrAssetNotFound, collection, id)
	}
	return a, err
}

// OwnerOf reports the identity currently holding custody of the asset.
func (r *Registry) OwnerOf(collection, id string) (string, error) {
	a, err := r.Asset(collection, id)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

// SetApprovalForAll lets operator move every asset owner holds.
func (r *Registry) SetApprovalForAll(owner, operator string, approved bool) error {
	if operator == "" {
		return errors.New("operator required")
	}
	if operator == owner {
		return errors.New("cannot approve self")
	}
	return r.state.SetApprovalForAll(owner, operator, approved)
}

// IsApprovedForAll reports whether operator may move owner's assets.
func (r *Registry) IsApprovedForAll(owner, operator string) (bool, error) {
	return r.state.IsApprovedForAll(owner, operator)
}

// Transfer moves an asset from its current owner to to, acting as caller.
// caller must be the owner or an operator the owner approved.
func (r *Registry) Transfer(caller, collection, id, from, to string) error {
	if to == "" {
		return errors.New("to address required")
	}
	a, err := r.Asset(collection, id)
	if err != nil {
		return err
	}
	if a.Owner != from {
		return fmt.Errorf("%w: %s/%s is held by %s", ErrNotOwner, collection, id, a.Owner)
	}
	if caller != from {
		ok, err := r.state.IsApprovedForAll(from, caller)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotApproved
		}
	}
	a.Owner = to
	return r.state.SetAsset(a)
}

// Spender is a view of the registry that always acts as one identity. The
// marketplace holds a Spender bound to its escrow address.
type Spender struct {
	reg  *Registry
	addr string
}

// Spender returns a view acting as addr.
func (r *Registry) Spender(addr string) *Spender {
	return &Spender{reg: r, addr: addr}
}

// OwnerOf reports the current custody holder of the asset.
func (s *Spender) OwnerOf(collection, id string) (string, error) {
	return s.reg.OwnerOf(collection, id)
}

// Transfer moves the asset from from to to on behalf of the bound identity.
func (s *Spender) Transfer(collection, id, from, to string) error {
	return s.reg.Transfer(s.addr, collection, id, from, to)
}
