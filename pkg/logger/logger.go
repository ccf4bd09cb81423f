package logger

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Logger
}

var (
	logger *Logger
	once   sync.Once
)

// ctxKeys are lifted from the request context into every entry.
var ctxKeys = []string{"request_id", "user_id", "session_id"}

func Init() *Logger {
	once.Do(func() {
		log := logrus.New()
		log.SetOutput(os.Stdout)
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := strings.Split(f.File, "/")
				return fmt.Sprintf("%s:%d", filename[len(filename)-1], f.Line), ""
			},
		})
		log.SetReportCaller(true)
		log.SetLevel(logrus.InfoLevel)
		logger = &Logger{log}
	})
	return logger
}

func Get() *Logger {
	return Init()
}

func SetLevel(level string) {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Get().SetLevel(logLevel)
}

// WithFieldsCtx merges request scoped values from ctx with fields.
func WithFieldsCtx(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	data := logrus.Fields{}
	if ctx != nil {
		for _, k := range ctxKeys {
			if v := ctx.Value(k); v != nil {
				if s, ok := v.(string); ok && s != "" {
					data[k] = s
				}
			}
		}
	}
	for k, v := range fields {
		data[k] = v
	}
	entry := Get().WithFields(data)
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	return entry
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			fields[key] = "(missing)"
			break
		}
		if err, ok := kv[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}

func Debug(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv)).Debug(msg)
}

func Info(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv)).Info(msg)
}

func Warn(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv)).Warn(msg)
}

func Error(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv)).Error(msg)
}

func Fatal(ctx context.Context, msg string, kv ...interface{}) {
	WithFieldsCtx(ctx, kvFields(kv)).Fatal(msg)
}

func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}

func WithError(err error) *logrus.Entry {
	return Get().WithError(err)
}
