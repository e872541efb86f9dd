package catalog

import (
	"context"
	"errors"
)

// Service is the catalog view the queue core needs: enough to price an
// appointment and project its duration. The full catalog lives elsewhere.
type Service struct {
	ID              string
	ShopID          string
	Name            string
	DurationMinutes int
	PriceCents      int64
}

type Shop struct {
	ID      string
	Name    string
	Address string
}

var ErrServiceNotFound = errors.New("catalog service not found")

// Provider resolves catalog lookups. The gRPC-backed implementation is built
// with the protogen tag; deployments without a catalog backend use a
// StaticProvider seeded from config or fixtures.
type Provider interface {
	GetService(ctx context.Context, serviceID string) (Service, error)
	GetShop(ctx context.Context, shopID string) (Shop, error)
}

// StaticProvider serves lookups from an in-memory set. A Service with an
// empty ShopID matches any shop, which keeps single-shop deployments and
// tests from having to enumerate pairs.
type StaticProvider struct {
	services map[string]Service
	shops    map[string]Shop
}

func NewStaticProvider(services []Service, shops []Shop) *StaticProvider {
	p := &StaticProvider{
		services: make(map[string]Service, len(services)),
		shops:    make(map[string]Shop, len(shops)),
	}
	for _, s := range services {
		p.services[s.ID] = s
	}
	for _, s := range shops {
		p.shops[s.ID] = s
	}
	return p
}

func (p *StaticProvider) GetService(_ context.Context, serviceID string) (Service, error) {
	s, ok := p.services[serviceID]
	if !ok {
		return Service{}, ErrServiceNotFound
	}
	return s, nil
}

func (p *StaticProvider) GetShop(_ context.Context, shopID string) (Shop, error) {
	s, ok := p.shops[shopID]
	if !ok {
		return Shop{ID: shopID}, nil
	}
	return s, nil
}
