// Package xtclog is a small log15-style leveled logger: variadic
// key/value context (log.Info("msg", "key", val)), colorized terminal
// output, and caller stacks on Crit.
package xtclog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	default:
		return "?????"
	}
}

var levelColor = map[Lvl]int{
	LvlCrit:  35, // magenta
	LvlError: 31, // red
	LvlWarn:  33, // yellow
	LvlInfo:  32, // green
	LvlDebug: 36, // cyan
}

// Logger is the interface every package in this module logs through.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
	mu  *sync.Mutex
	out io.Writer
	lvl Lvl
	tty bool
}

var root = newLogger(os.Stderr, LvlInfo)

func newLogger(w io.Writer, lvl Lvl) *logger {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}
	out := w
	if tty {
		out = colorable.NewColorable(w.(*os.File))
	}
	return &logger{mu: &sync.Mutex{}, out: out, lvl: lvl, tty: tty}
}

// Root returns the package-level default logger.
func Root() Logger { return root }

// SetLevel adjusts the minimum level the root logger emits.
func SetLevel(lvl Lvl) { root.lvl = lvl }

func (l *logger) New(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{ctx: nctx, mu: l.mu, out: l.out, lvl: l.lvl, tty: l.tty}
}

func (l *logger) log(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.lvl {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02T15:04:05-0700")
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	if lvl == LvlCrit {
		all = append(all, "stack", stack.Trace().TrimRuntime())
	}
	if l.tty {
		fmt.Fprintf(l.out, "\x1b[%dmTIME\x1b[0m=%s \x1b[%dm%-5s\x1b[0m %s", 90, ts, levelColor[lvl], lvl, msg)
	} else {
		fmt.Fprintf(l.out, "TIME=%s %-5s %s", ts, lvl, msg)
	}
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(l.out)
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx) }

// Package-level convenience functions for callers that don't carry a
// Logger of their own.
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
