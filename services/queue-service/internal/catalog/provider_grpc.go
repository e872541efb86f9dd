//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/turnbook/turnq/libs/grpcx"
	catalogv1 "github.com/turnbook/turnq/protos/gen/catalog/v1"
)

type grpcProvider struct {
	client catalogv1.CatalogServiceClient
}

// NewGRPCProvider dials the catalog service. An empty addr disables the
// provider; callers fall back to a StaticProvider.
func NewGRPCProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (p *grpcProvider) GetService(ctx context.Context, serviceID string) (Service, error) {
	resp, err := p.client.GetService(ctx, &catalogv1.GetServiceRequest{ServiceId: serviceID})
	if err != nil {
		return Service{}, err
	}
	return Service{
		ID:              resp.GetServiceId(),
		ShopID:          resp.GetShopId(),
		Name:            resp.GetName(),
		DurationMinutes: int(resp.GetDurationMinutes()),
		PriceCents:      resp.GetPriceCents(),
	}, nil
}

func (p *grpcProvider) GetShop(ctx context.Context, shopID string) (Shop, error) {
	resp, err := p.client.GetShop(ctx, &catalogv1.GetShopRequest{ShopId: shopID})
	if err != nil {
		return Shop{}, err
	}
	return Shop{
		ID:      resp.GetShopId(),
		Name:    resp.GetName(),
		Address: resp.GetAddress(),
	}, nil
}
