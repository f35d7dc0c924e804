package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	utils "github.com/go-slark/discovery/pkg"
	"github.com/sirupsen/logrus"
)

type RawJSONFormatter struct {
	*logrus.JSONFormatter
}

func (f *RawJSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	for k, v := range entry.Data {
		// Otherwise errors are ignored by `encoding/json`
		// https://github.com/sirupsen/logrus/issues/137
		if err, ok := v.(error); ok {
			entry.Data[k] = err.Error()
		}
	}
	return f.JSONFormatter.Format(entry)
}

type log struct {
	*logrus.Logger
}

func NewLog(opts ...FuncOpts) Logger {
	le := &logEntity{
		name:   "default",
		level:  logrus.InfoLevel,
		levels: logrus.AllLevels,
		formatter: &RawJSONFormatter{
			JSONFormatter: &logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05.000",
			},
		},
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(le)
	}
	l := logrus.New()
	l.SetFormatter(le.formatter)
	l.SetLevel(le.level)
	l.SetOutput(le.writer)
	l.SetReportCaller(le.reportCaller)
	l.AddHook(le)
	return &log{Logger: l}
}

func (l *log) Log(ctx context.Context, level uint, fields map[string]interface{}, v ...interface{}) {
	var logrusLevel logrus.Level
	switch level {
	case PanicLevel:
		logrusLevel = logrus.PanicLevel
	case FatalLevel:
		logrusLevel = logrus.FatalLevel
	case ErrorLevel:
		logrusLevel = logrus.ErrorLevel
	case WarnLevel:
		logrusLevel = logrus.WarnLevel
	case InfoLevel:
		logrusLevel = logrus.InfoLevel
	case TraceLevel:
		logrusLevel = logrus.TraceLevel
	default:
		logrusLevel = logrus.DebugLevel
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.WithContext(ctx).WithFields(fields).Log(logrusLevel, v...)
}

// logrus opt

type logEntity struct {
	name         string
	level        logrus.Level
	levels       []logrus.Level
	formatter    logrus.Formatter
	writer       io.Writer
	reportCaller bool
}

type FuncOpts func(*logEntity)

func WithSrvName(name string) FuncOpts {
	return func(l *logEntity) {
		l.name = name
	}
}

func WithLevel(level string) FuncOpts {
	return func(l *logEntity) {
		lv, err := logrus.ParseLevel(level)
		if err != nil {
			panic(fmt.Errorf("logrus parse level fail, level:%s, err:%+v", level, err))
		}
		l.level = lv
	}
}

func WithFormatter(formatter logrus.Formatter) FuncOpts {
	return func(l *logEntity) {
		l.formatter = formatter
	}
}

func WithWriter(writer io.Writer) FuncOpts {
	return func(l *logEntity) {
		l.writer = writer
	}
}

func WithReportCaller(caller bool) FuncOpts {
	return func(l *logEntity) {
		l.reportCaller = caller
	}
}

func (l *logEntity) Levels() []logrus.Level {
	return l.levels
}

func (l *logEntity) Fire(entry *logrus.Entry) error {
	if id := utils.ExtractTraceID(entry.Context); id != "" {
		entry.Data[utils.TraceID] = id
	}
	entry.Data[utils.LogName] = l.name
	return nil
}
