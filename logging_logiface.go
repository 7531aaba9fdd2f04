// logging_logiface.go - an optional Logger backend built on logiface, for
// callers who want structured fields and level filtering from that library
// rather than coro's own DefaultLogger/WriterLogger.

package coro

import (
	"fmt"
	"io"
	"sync"

	"github.com/joeycumines/logiface"
)

// logifaceEvent renders itself into a reusable byte buffer as space
// separated "key=value" pairs, one line per event, the way stumpy's Event
// builds a JSON line incrementally rather than collecting fields in a map.
type logifaceEvent struct {
	logiface.UnimplementedEvent
	lvl logiface.Level
	buf []byte
}

func (e *logifaceEvent) Level() logiface.Level { return e.lvl }

func (e *logifaceEvent) appendSep() {
	if len(e.buf) != 0 {
		e.buf = append(e.buf, ' ')
	}
}

func (e *logifaceEvent) AddField(key string, val any) {
	e.appendSep()
	e.buf = append(e.buf, key...)
	e.buf = append(e.buf, '=')
	e.buf = fmt.Appendf(e.buf, "%v", val)
}

func (e *logifaceEvent) AddMessage(msg string) bool {
	e.appendSep()
	e.buf = append(e.buf, "msg="...)
	e.buf = append(e.buf, msg...)
	return true
}

func (e *logifaceEvent) AddError(err error) bool {
	e.AddField("err", err.Error())
	return true
}

func (e *logifaceEvent) AddString(key string, val string) bool {
	e.AddField(key, val)
	return true
}

func (e *logifaceEvent) AddInt(key string, val int) bool {
	e.AddField(key, val)
	return true
}

func (e *logifaceEvent) AddUint64(key string, val uint64) bool {
	e.AddField(key, val)
	return true
}

func (e *logifaceEvent) AddBool(key string, val bool) bool {
	e.AddField(key, val)
	return true
}

// logifaceHost is the EventFactory, EventReleaser and Writer for
// logifaceEvent: one type playing all three roles, pooling events and
// serializing writes under a single mutex.
type logifaceHost struct {
	mu   sync.Mutex
	out  io.Writer
	pool sync.Pool
}

func newLogifaceHost(out io.Writer) *logifaceHost {
	h := &logifaceHost{out: out}
	h.pool.New = func() any { return &logifaceEvent{buf: make([]byte, 0, 128)} }
	return h
}

func (h *logifaceHost) NewEvent(level logiface.Level) *logifaceEvent {
	e := h.pool.Get().(*logifaceEvent)
	e.lvl = level
	e.buf = e.buf[:0]
	return e
}

func (h *logifaceHost) ReleaseEvent(e *logifaceEvent) {
	h.pool.Put(e)
}

func (h *logifaceHost) Write(e *logifaceEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.out.Write(e.buf); err != nil {
		return err
	}
	_, err := h.out.Write([]byte{'\n'})
	return err
}

// LogifaceLogger adapts a logiface.Logger to the Logger interface, so a
// Scheduler's log traffic can be routed through logiface's level filtering
// and field-builder API instead of DefaultLogger or WriterLogger.
type LogifaceLogger struct {
	logger *logiface.Logger[*logifaceEvent]
}

// NewLogifaceLogger builds a LogifaceLogger writing one line per event to
// out. level is the logiface syslog-style threshold (lower is more severe);
// entries whose mapped level is above it are dropped before a *logifaceEvent
// is even allocated.
func NewLogifaceLogger(out io.Writer, level logiface.Level) *LogifaceLogger {
	host := newLogifaceHost(out)
	return &LogifaceLogger{
		logger: logiface.New[*logifaceEvent](
			logiface.WithLevel[*logifaceEvent](level),
			logiface.WithEventFactory[*logifaceEvent](host),
			logiface.WithEventReleaser[*logifaceEvent](host),
			logiface.WithWriter[*logifaceEvent](host),
		),
	}
}

// logifaceLevelFor maps a LogLevel onto logiface's syslog-style scale.
func logifaceLevelFor(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (l *LogifaceLogger) IsEnabled(level LogLevel) bool {
	return l.logger.Build(logifaceLevelFor(level)).Enabled()
}

func (l *LogifaceLogger) Log(entry LogEntry) {
	b := l.logger.Build(logifaceLevelFor(entry.Level)).
		Str("category", entry.Category).
		Uint64("scheduler_id", entry.SchedulerID)
	if entry.TaskID != 0 {
		b = b.Uint64("task_id", entry.TaskID)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	for k, v := range entry.Fields {
		b = b.Field(k, v)
	}
	b.Log(entry.Message)
}
