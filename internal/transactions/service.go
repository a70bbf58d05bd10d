// Package transactions serves the transaction history page. History is not
// yet sourced from the backend, so the page always lists nothing.
package transactions

import (
	"context"

	"x402-Dashboard/internal/backend"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/querycache"

	"github.com/ethereum/go-ethereum/common"
)

// Session exposes the connected account.
type Session interface {
	Address() (common.Address, bool)
}

// Service implements the transaction page.
type Service struct {
	session Session
	cache   *querycache.Cache
}

// NewService wires the transaction page.
func NewService(session Session, cache *querycache.Cache) *Service {
	if cache == nil {
		cache = querycache.New(nil, 0)
	}
	return &Service{session: session, cache: cache}
}

// List returns the connected account's transactions.
func (s *Service) List(ctx context.Context) ([]backend.Transaction, error) {
	owner, ok := s.session.Address()
	if !ok {
		return nil, xerrors.New(xerrors.CodeWalletDisconnected, "")
	}
	// TODO: read from GET /agents/{id}/transactions for each owned agent once the backend exposes a per-user feed.
	return querycache.Fetch(ctx, s.cache, querycache.Key{"transactions", owner.Hex()}, func(context.Context) ([]backend.Transaction, error) {
		return []backend.Transaction{}, nil
	})
}
