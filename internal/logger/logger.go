// Package logger writes prefix-tagged log lines through a buffered background worker
// so that hot paths (websocket pumps, fan-out) never block on stderr.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// slowCallThreshold is the minimum duration LogDuration reports outside debug level.
const slowCallThreshold = 100 * time.Millisecond

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Uint64
)

func init() {
	prefix.Store("")
	logLevel.Store(int32(LevelInfo))
}

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	logLevel.Store(int32(l))
}

// SetPrefix sets the service tag, e.g. "api" or "chatclient".
func SetPrefix(p string) {
	prefix.Store(p)
}

// Dropped reports how many lines were discarded because the buffer was full.
func Dropped() uint64 {
	return dropped.Load()
}

func startWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enabled(l Level) bool {
	return int32(l) >= logLevel.Load()
}

func enqueue(l Level, label, msg string) {
	if !enabled(l) {
		return
	}
	once.Do(startWorker)
	line := tag() + label + msg
	select {
	case ch <- line:
	default:
		dropped.Add(1)
	}
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(LevelDebug, "DEBUG: ", fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(LevelInfo, "", fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(LevelInfo, "", fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(LevelWarn, "WARN: ", fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(LevelError, "ERROR: ", fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(LevelError, "ERROR: ", fmt.Sprintf(format, v...))
}

// LogDuration reports how long fn took. At info level only calls slower than
// slowCallThreshold are written; at debug level every call is.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(LevelDebug) || elapsed >= slowCallThreshold {
		// Slow calls are always written at info level.
		enqueue(LevelInfo, "", fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("msg.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
