package worksheet

import (
	"path/filepath"
	"strings"

	"github.com/morozRed/worksheet/internal/config"
)

// DefaultExtensions are the script types the front end activates for.
var DefaultExtensions = config.DefaultExtensions

// IsApplicable reports whether documents at path get a worksheet. A nil
// extension list means DefaultExtensions.
func IsApplicable(path string, extensions []string) bool {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, candidate := range extensions {
		if ext == config.NormalizeExtension(candidate) {
			return true
		}
	}
	return false
}
