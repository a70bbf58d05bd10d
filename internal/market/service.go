// Package market serves the service marketplace page.
package market

import (
	"context"
	"strings"

	"x402-Dashboard/internal/backend"
	"x402-Dashboard/internal/config"
	xerrors "x402-Dashboard/internal/errors"
	"x402-Dashboard/internal/querycache"
	"x402-Dashboard/pkg/logger"
)

// Backend is the subset of the backend client used by the market page.
type Backend interface {
	ListServices(ctx context.Context, q backend.ServiceQuery) ([]backend.Service, error)
	GetService(ctx context.Context, id string) (backend.Service, error)
}

// Filter narrows the listing. Type is applied by the backend, Search locally.
type Filter struct {
	Type   string
	Search string
}

// Service implements the market page.
type Service struct {
	backend Backend
	cache   *querycache.Cache
}

// NewService wires the market page.
func NewService(client Backend, cache *querycache.Cache) *Service {
	if cache == nil {
		cache = querycache.New(nil, 0)
	}
	return &Service{backend: client, cache: cache}
}

// List fetches the services of the requested type and keeps those whose name
// or description contains Search, ignoring case.
func (s *Service) List(ctx context.Context, f Filter) ([]backend.Service, error) {
	if !config.ValidServiceType(f.Type) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown service type "+f.Type,
			xerrors.WithMetadata("field", "service_type"))
	}

	services, err := querycache.Fetch(ctx, s.cache, querycache.Key{"market-services", f.Type}, func(ctx context.Context) ([]backend.Service, error) {
		list, err := s.backend.ListServices(ctx, backend.ServiceQuery{ServiceType: f.Type})
		if err != nil {
			if backend.StatusOf(err) != 0 {
				logger.Named("market").Info("后端返回非 2xx，按空列表处理", "service_type", f.Type, "error", err)
				return []backend.Service{}, nil
			}
			return nil, err
		}
		return list, nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "failed to load market services")
	}

	filtered := make([]backend.Service, 0, len(services))
	for _, svc := range services {
		if Matches(svc, f.Search) {
			filtered = append(filtered, svc)
		}
	}
	return filtered, nil
}

// Matches reports whether search occurs in the service name or description,
// ignoring case. An empty search matches everything.
func Matches(svc backend.Service, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(svc.Name), needle) ||
		strings.Contains(strings.ToLower(svc.Description), needle)
}

// Get returns the detail of one service, including its pricing model.
func (s *Service) Get(ctx context.Context, id string) (backend.Service, error) {
	if strings.TrimSpace(id) == "" {
		return backend.Service{}, xerrors.New(xerrors.CodeInvalidArgument, "service id is required")
	}
	svc, err := querycache.Fetch(ctx, s.cache, querycache.Key{"market-service", id}, func(ctx context.Context) (backend.Service, error) {
		return s.backend.GetService(ctx, id)
	})
	if err != nil {
		if backend.StatusOf(err) == 404 {
			return backend.Service{}, xerrors.Wrap(xerrors.CodeNotFound, err, "")
		}
		return backend.Service{}, xerrors.Wrap(xerrors.CodeBackendFailure, err, "failed to load market service")
	}
	return svc, nil
}

// Types lists the selectable service types in display order.
func Types() []config.ServiceType {
	return append([]config.ServiceType(nil), config.ServiceTypes...)
}
