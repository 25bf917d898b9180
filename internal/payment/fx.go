package payment

import (
	"github.com/sufrahq/sufra/internal/payment/moyasar"
	"github.com/sufrahq/sufra/internal/payment/repository"
	"github.com/sufrahq/sufra/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		moyasar.NewClient,
		repository.Provide,
		service.NewService,
	),
)
