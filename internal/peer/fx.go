package peer

import (
	"github.com/smallbiznis/ocpilink/internal/peer/repository"
	"github.com/smallbiznis/ocpilink/internal/peer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("peer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
