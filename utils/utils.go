// Package utils holds small helpers shared across the module.
package utils

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var sourceDir string

func init() {
	_, file, _, _ := runtime.Caller(0)
	sourceDir = filepath.ToSlash(filepath.Dir(filepath.Dir(file))) + "/"
}

// FileWithLineNum returns the first caller frame outside this module, so log
// lines point at the application call site
func FileWithLineNum() string {
	for i := 2; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if ok && (!strings.HasPrefix(file, sourceDir) || strings.HasSuffix(file, "_test.go")) {
			return file + ":" + strconv.FormatInt(int64(line), 10)
		}
	}
	return ""
}
