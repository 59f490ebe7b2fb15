package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
	mu   sync.RWMutex
)

func get() *zap.Logger {
	once.Do(func() {
		if log == nil {
			l, err := newLogger("info", false)
			if err != nil {
				l = zap.NewNop()
			}
			log = l
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	var conf zap.Config
	if development {
		conf = zap.NewDevelopmentConfig()
	} else {
		conf = zap.NewProductionConfig()
		conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	conf.Level = zap.NewAtomicLevelAt(lvl)
	return conf.Build(zap.AddCallerSkip(1))
}

// Init replaces the process logger. It is called once from main before any component starts.
func Init(level string, development bool) error {
	l, err := newLogger(level, development)
	if err != nil {
		return err
	}
	once.Do(func() {})
	mu.Lock()
	log = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	return nil
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

func Named(name string) *zap.Logger {
	return get().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

func Sync() error {
	return get().Sync()
}
