package capture

import (
	"context"
	"os"

	"github.com/ecoaudit/voicenote/internal/capture"
	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (capture.Driver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewDriver(fileSource(cfg.CaptureSourcePath)), nil
	})
}

// fileSource reads PCM from a path, typically a FIFO fed by the platform's
// capture process.
func fileSource(path string) capture.SourceFactory {
	return func(_ context.Context, _ capture.Constraints) (capture.Source, error) {
		return os.Open(path)
	}
}
