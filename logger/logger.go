package logger

import (
	"context"
	"sync/atomic"
)

const (
	PanicLevel uint = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

type Logger interface {
	Log(ctx context.Context, level uint, fields map[string]interface{}, v ...interface{})
}

var global atomic.Value

func init() {
	global.Store(&holder{NewLog()})
}

type holder struct {
	Logger
}

func SetLogger(l Logger) {
	if l == nil {
		return
	}
	global.Store(&holder{l})
}

func GetLogger() Logger {
	return global.Load().(*holder).Logger
}

func Log(ctx context.Context, level uint, fields map[string]interface{}, v ...interface{}) {
	GetLogger().Log(ctx, level, fields, v...)
}

type nop struct{}

func (nop) Log(context.Context, uint, map[string]interface{}, ...interface{}) {}

// Discard drops every entry.
var Discard Logger = nop{}
