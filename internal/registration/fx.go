package registration

import (
	"github.com/smallbiznis/ocpilink/internal/registration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(service.New),
	fx.Provide(NewWorker),
)

// WorkerModule starts the retry worker; only the serve command includes it.
var WorkerModule = fx.Module("registration.worker",
	fx.Invoke(StartWorker),
)
