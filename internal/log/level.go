package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap/zapcore"
)

var envFunc = func(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func parseLevel(s string) (zapcore.Level, bool) {
	var lvl zapcore.Level
	if err := lvl.Set(strings.ToLower(s)); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

// moduleLevel resolves the most specific of LOG_LEVEL__A__B, LOG_LEVEL__A
// and LOG_LEVEL for the module path [a, b].
func moduleLevel(names []string) zapcore.Level {
	sk := make([]string, len(names))
	for i, n := range names {
		sk[i] = strcase.ToScreamingSnake(n)
	}

	keys := make([]string, 0, len(sk)+1)
	for i := len(sk); i > 0; i-- {
		keys = append(keys, fmt.Sprintf("LOG_LEVEL__%s", strings.Join(sk[:i], "__")))
	}
	keys = append(keys, "LOG_LEVEL")

	for _, k := range keys {
		if v, ok := envFunc(k); ok {
			if lv, ok := parseLevel(v); ok {
				return lv
			}
		}
	}
	return zapcore.InfoLevel
}
