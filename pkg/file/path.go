package file

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[\\/:*?"<>|\s]+`)

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	if lastDot := strings.LastIndex(base, "."); lastDot > 0 {
		return base[:lastDot]
	}
	return base
}

// ResultPath names the converted output of inputPath:
// <outDir>/<stem>_to_<destination>.sql
func ResultPath(outDir, inputPath, destination string) string {
	dest := unsafeName.ReplaceAllString(strings.TrimSpace(destination), "_")
	if dest == "" {
		dest = "out"
	}
	return filepath.Join(outDir, Stem(inputPath)+"_to_"+dest+".sql")
}
