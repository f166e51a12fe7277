package uploader

import (
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/uploader"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (uploader.Uploader, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHTTPUploader(cfg.UploadURL, cfg.UploadToken), nil
	})
}
