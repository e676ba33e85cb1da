package versions

import (
	versionsdomain "github.com/smallbiznis/ocpilink/internal/versions/domain"
	"github.com/smallbiznis/ocpilink/internal/versions/priority"
	"github.com/smallbiznis/ocpilink/internal/versions/service"
	"go.uber.org/fx"
)

var Module = fx.Module("versions.service",
	fx.Provide(
		priority.NewHolder,
		func(h *priority.Holder) versionsdomain.PriorityProvider { return h },
	),
	fx.Provide(service.New),
)
