package license

import (
	"updater-controlplane/services/sysinfo"

	"go.uber.org/fx"
)

var Module = fx.Module("license",
	fx.Provide(
		ProvideCodec,
		ProvideAuthority,
		provideInfoStore,
		NewValidator,
	),
)

func provideInfoStore(s *sysinfo.Store) InfoStore {
	return s
}
