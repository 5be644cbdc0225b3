// Package mediastore resolves the per-user temp directory used for
// streaming media downloads and enforces size caps on the way in.
package mediastore

import (
	"os"
	"path/filepath"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
)

// TempDirEnv is the explicit per-provider override checked first.
const TempDirEnv = "TELEGRAM_TEMP_DIR"

// ResolveDir implements the §4.9 selection order: explicit env override,
// then the preferred brand dir, legacy brand dir, workspace fallback,
// then OS tmp. paths.ResolveConfigDir already walks brand/legacy/workspace/
// tmp, so this only has to layer the env override on top.
func ResolveDir(envOverride string) (string, error) {
	if envOverride != "" {
		if err := os.MkdirAll(envOverride, 0750); err != nil {
			L_warn("mediastore: explicit temp dir not usable, falling back", "dir", envOverride, "error", err)
		} else {
			return envOverride, nil
		}
	}

	base, err := paths.ResolveConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "telegram-temp")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
