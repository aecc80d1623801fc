// Package assets holds non-fungible tokens and moves them to auction winners.
package assets

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudx-io/escrowauction/core"
)

var (
	ErrTokenExists     = errors.New("token already minted")
	ErrTokenNotFound   = errors.New("token not found")
	ErrNotOwner        = errors.New("from is not the token owner")
	ErrNotAuthorized   = errors.New("caller not authorized for token")
	ErrInvalidReceiver = errors.New("invalid receiver")
)

// Registry is an in-memory non-fungible token registry with ERC-721 style
// approvals. A transfer requires owners[token] == from and a caller that is the
// owner, the approved address for the token, or an operator of the owner.
type Registry struct {
	mu        sync.RWMutex
	name      string
	owners    map[string]core.Identity
	approved  map[string]core.Identity
	operators map[core.Identity]map[core.Identity]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:      name,
		owners:    make(map[string]core.Identity),
		approved:  make(map[string]core.Identity),
		operators: make(map[core.Identity]map[core.Identity]bool),
	}
}

// Name returns the registry name used in asset references.
func (r *Registry) Name() string {
	return r.name
}

// Mint creates tokenID owned by to.
func (r *Registry) Mint(tokenID string, to core.Identity) error {
	if to == "" {
		return ErrInvalidReceiver
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[tokenID]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, tokenID)
	}
	r.owners[tokenID] = to
	return nil
}

// OwnerOf returns the owner of tokenID.
func (r *Registry) OwnerOf(tokenID string) (core.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	return owner, nil
}

// BalanceOf counts the tokens held by owner.
func (r *Registry) BalanceOf(owner core.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.owners {
		if o == owner {
			n++
		}
	}
	return n
}

// TokensOf lists the tokens held by owner in lexical order.
func (r *Registry) TokensOf(owner core.Identity) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tokens []string
	for id, o := range r.owners {
		if o == owner {
			tokens = append(tokens, id)
		}
	}
	sort.Strings(tokens)
	return tokens
}

// Approve lets spender move tokenID. caller must be the owner or an operator.
func (r *Registry) Approve(caller core.Identity, tokenID string, spender core.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if caller != owner && !r.operators[owner][caller] {
		return fmt.Errorf("%w: %s cannot approve %s", ErrNotAuthorized, caller, tokenID)
	}
	r.approved[tokenID] = spender
	return nil
}

// GetApproved returns the address approved for tokenID, if any.
func (r *Registry) GetApproved(tokenID string) core.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approved[tokenID]
}

// SetApprovalForAll grants or revokes operator rights over all of owner's tokens.
func (r *Registry) SetApprovalForAll(owner, operator core.Identity, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operators[owner] == nil {
		r.operators[owner] = make(map[core.Identity]bool)
	}
	if approved {
		r.operators[owner][operator] = true
	} else {
		delete(r.operators[owner], operator)
	}
}

// IsApprovedForAll reports whether operator may move all of owner's tokens.
func (r *Registry) IsApprovedForAll(owner, operator core.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[owner][operator]
}

// TransferFrom moves tokenID from from to to on behalf of caller and clears the
// token's approval.
func (r *Registry) TransferFrom(caller, from, to core.Identity, tokenID string) error {
	if to == "" {
		return ErrInvalidReceiver
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if owner != from {
		return fmt.Errorf("%w: %s owns %s, not %s", ErrNotOwner, owner, tokenID, from)
	}
	if caller != from && r.approved[tokenID] != caller && !r.operators[from][caller] {
		return fmt.Errorf("%w: %s cannot move %s", ErrNotAuthorized, caller, tokenID)
	}

	r.owners[tokenID] = to
	delete(r.approved, tokenID)
	return nil
}
