package session

import (
	"github.com/ecoaudit/voicenote/internal/capture"
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/ecoaudit/voicenote/internal/uploader"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		chunkStore := do.MustInvoke[store.ChunkStore](i)
		driver := do.MustInvoke[capture.Driver](i)
		upl := do.MustInvoke[uploader.Uploader](i)
		return NewManager(cfg, chunkStore, driver, upl), nil
	})
	do.Provide(injector, func(i do.Injector) (*Guard, error) {
		manager := do.MustInvoke[*Manager](i)
		return NewGuard(manager, ""), nil
	})
}
