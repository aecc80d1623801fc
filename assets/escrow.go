package assets

import (
	"context"
	"fmt"

	"github.com/cloudx-io/escrowauction/core"
)

// Escrow moves tokens out of the account of holder. It implements
// core.AssetTransfer for a single registry.
type Escrow struct {
	registry *Registry
	holder   core.Identity
}

// NewEscrow returns an adapter for tokens held by holder in registry.
func NewEscrow(registry *Registry, holder core.Identity) *Escrow {
	return &Escrow{registry: registry, holder: holder}
}

// Holder returns the escrow identity.
func (e *Escrow) Holder() core.Identity {
	return e.holder
}

// Deposit moves tokenID from owner into escrow. The owner must have approved
// the holder, or made it an operator, beforehand.
func (e *Escrow) Deposit(owner core.Identity, tokenID string) (core.Asset, error) {
	if err := e.registry.TransferFrom(e.holder, owner, e.holder, tokenID); err != nil {
		return core.Asset{}, fmt.Errorf("deposit %s into escrow: %w", tokenID, err)
	}
	return core.Asset{Registry: e.registry.Name(), TokenID: tokenID}, nil
}

func (e *Escrow) TransferAsset(ctx context.Context, asset core.Asset, to core.Identity) error {
	if err := e.check(ctx, asset); err != nil {
		return err
	}
	return e.registry.TransferFrom(e.holder, e.holder, to, asset.TokenID)
}

// UndoTransfer takes the asset back from the winner. The registry is operated by
// the auction host, so the holder acts with owner authority over its own handoff.
func (e *Escrow) UndoTransfer(ctx context.Context, asset core.Asset, from core.Identity) error {
	if err := e.check(ctx, asset); err != nil {
		return err
	}
	return e.registry.TransferFrom(from, from, e.holder, asset.TokenID)
}

func (e *Escrow) check(ctx context.Context, asset core.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if asset.Registry != e.registry.Name() {
		return fmt.Errorf("asset registry %q is not %q", asset.Registry, e.registry.Name())
	}
	return nil
}
