package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   *zap.SugaredLogger
	atom     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	jsonMode bool
)

// redactedKeys never reach the log output with their real value.
var redactedKeys = map[string]struct{}{
	"api_key":    {},
	"credential": {},
	"password":   {},
	"token":      {},
}

// initLogger builds the global logger writing to stderr.
func initLogger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		return logger
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if jsonMode {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), atom)
	logger = zap.New(core).Sugar()
	return logger
}

// ParseLevel maps a config string onto a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		atom.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		atom.SetLevel(zapcore.WarnLevel)
	case LevelError:
		atom.SetLevel(zapcore.ErrorLevel)
	default:
		atom.SetLevel(zapcore.InfoLevel)
	}
}

// SetJSON switches between console and JSON encoding. It rebuilds the
// logger, so call it once during startup.
func SetJSON(enabled bool) {
	mu.Lock()
	jsonMode = enabled
	if logger != nil {
		_ = logger.Sync()
		logger = nil
	}
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	initLogger().Debugw(msg, redact(kv)...)
}

func Info(msg string, kv ...any) {
	initLogger().Infow(msg, redact(kv)...)
}

func Warn(msg string, kv ...any) {
	initLogger().Warnw(msg, redact(kv)...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	initLogger().Errorw(msg, redact(extended)...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = initLogger().Sync()
}

func redact(kv []any) []any {
	out := make([]any, 0, len(kv))
	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		val := kv[i+1]
		if _, secret := redactedKeys[strings.ToLower(key)]; secret {
			val = "[REDACTED]"
		}
		out = append(out, key, val)
	}
	// If odd number of args, last one is ignored.
	return out
}
