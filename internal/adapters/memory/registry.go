// Package memory provides in-process implementations of the registry, ledger and
// clock ports for tests, demos and single-node development runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
)

var (
	ErrUnknownAsset = errors.New("registry: unknown asset")
	ErrNotApproved  = errors.New("registry: operator not approved")
)

// Registry is a mutex-guarded asset registry. It tracks owners and operator
// approvals per registry ref and authorises transfers for a single operator (the
// marketplace), the way an on-chain registry checks the caller.
type Registry struct {
	mu        sync.Mutex
	operator  string
	clock     ports.Clock
	owners    map[string]map[string]string            // ref -> asset -> owner
	approvals map[string]map[string][]domain.Approval // ref -> owner -> approvals
	failNext  error
}

// NewRegistry creates a registry that authorises transfers requested by operator.
// clock may be nil, in which case approval expiry is not enforced on transfer.
func NewRegistry(operator string, clock ports.Clock) *Registry {
	return &Registry{
		operator:  operator,
		clock:     clock,
		owners:    make(map[string]map[string]string),
		approvals: make(map[string]map[string][]domain.Approval),
	}
}

// Mint sets the owner of an asset.
func (r *Registry) Mint(ref, assetID, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[ref] == nil {
		r.owners[ref] = make(map[string]string)
	}
	r.owners[ref][assetID] = owner
}

// Approve records an operator approval granted by owner.
func (r *Registry) Approve(ref, owner string, a domain.Approval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approvals[ref] == nil {
		r.approvals[ref] = make(map[string][]domain.Approval)
	}
	r.approvals[ref][owner] = append(r.approvals[ref][owner], a)
}

// Revoke drops every approval owner granted to spender.
func (r *Registry) Revoke(ref, owner, spender string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.approvals[ref][owner]
	kept := list[:0]
	for _, a := range list {
		if a.Spender != spender {
			kept = append(kept, a)
		}
	}
	if r.approvals[ref] != nil {
		r.approvals[ref][owner] = kept
	}
}

// FailNext makes the next registry call return err.
func (r *Registry) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

func (r *Registry) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *Registry) OwnerOf(_ context.Context, ref, assetID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return "", err
	}
	owner, ok := r.owners[ref][assetID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownAsset, ref, assetID)
	}
	return owner, nil
}

func (r *Registry) Approvals(_ context.Context, ref, owner string) ([]domain.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}
	return append([]domain.Approval(nil), r.approvals[ref][owner]...), nil
}

func (r *Registry) TransferAsset(ctx context.Context, ref, assetID, recipient string) error {
	var block *domain.BlockInfo
	if r.clock != nil {
		b, err := r.clock.Block(ctx)
		if err != nil {
			return err
		}
		block = &b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	owner, ok := r.owners[ref][assetID]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAsset, ref, assetID)
	}
	if !r.authorized(ref, owner, block) {
		return fmt.Errorf("%w: %s cannot move %s/%s", ErrNotApproved, r.operator, ref, assetID)
	}
	r.owners[ref][assetID] = recipient
	return nil
}

func (r *Registry) authorized(ref, owner string, block *domain.BlockInfo) bool {
	for _, a := range r.approvals[ref][owner] {
		if a.Spender != r.operator {
			continue
		}
		if block != nil && a.Expires.IsExpired(*block) {
			continue
		}
		return true
	}
	return false
}

var _ ports.Registry = (*Registry)(nil)
