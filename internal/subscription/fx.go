package subscription

import (
	"github.com/sufrahq/sufra/internal/subscription/repository"
	"github.com/sufrahq/sufra/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
