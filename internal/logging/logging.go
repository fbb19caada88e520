// Package logging 构建 zap logger，并把它适配给 cron
package logging

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 按级别和格式构建 SugaredLogger
// format 为 json 时输出结构化日志，否则输出便于人看的 console 格式
func New(level, format string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	if format == "json" {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		logger, err := config.Build()
		if err != nil {
			return nil, errors.Wrap(err, "building json logger")
		}
		return logger.Sugar(), nil
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stdout),
		lvl,
	)
	return zap.New(core).Sugar(), nil
}

// CronLogger 实现 cron.Logger
type CronLogger struct {
	log *zap.SugaredLogger
}

func NewCronLogger(log *zap.SugaredLogger) *CronLogger {
	return &CronLogger{log: log.Named("cron")}
}

// Info cron 的调度细节只在 debug 级别输出
func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
