// Package reflection provides an empty module; it registers no reflection
// service.
package reflection

import (
	"go.uber.org/fx"
)

// Module is empty and registers nothing.
// Deprecated: neither this module nor the grpc-server produced by the [fxgrpc] module installs a reflection service.
var Module = fx.Options()
