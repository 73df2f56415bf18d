package catalog

import (
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/internal/catalog/network"
	"github.com/netvora/billing/internal/catalog/plan"
	"github.com/netvora/billing/internal/catalog/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(registry.New),
	fx.Provide(plan.NewStore),
	fx.Provide(network.NewStore),
	fx.Invoke(RegisterServiceTypes),
)

func RegisterServiceTypes(reg catalogdomain.Registry, plans *plan.Store, subnets *network.Store) {
	reg.Register(plan.ServiceType, plans.Resolver())
	reg.Register(network.ServiceType, subnets.Resolver())
}
