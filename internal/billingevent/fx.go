package billingevent

import (
	"github.com/netvora/billing/internal/billingevent/publisher"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent",
	fx.Provide(publisher.New),
)
