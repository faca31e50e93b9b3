package syncer

import (
	"fmt"
	"os"
	"path/filepath"
)

const scriptNotFoundTemplateConstant = "script not found: %s"

// ReadScriptContent loads a step's script file relative to the base path.
func ReadScriptContent(scriptPath string, basePath string) (string, error) {
	resolvedPath := scriptPath
	if len(basePath) > 0 && !filepath.IsAbs(scriptPath) {
		resolvedPath = filepath.Join(basePath, scriptPath)
	}

	scriptBytes, readError := os.ReadFile(resolvedPath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return "", fmt.Errorf(scriptNotFoundTemplateConstant, scriptPath)
		}
		return "", readError
	}
	return string(scriptBytes), nil
}
