package coro

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogifaceLogger_WritesFieldsAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogifaceLogger(&buf, logiface.LevelWarning)

	require.False(t, logger.IsEnabled(LevelDebug), "Debug should be filtered out below the Warning threshold")
	require.True(t, logger.IsEnabled(LevelError))

	logger.Log(LogEntry{
		Level:       LevelDebug,
		Category:    "task",
		SchedulerID: 1,
		TaskID:      2,
		Message:     "should not appear",
	})
	assert.Empty(t, buf.String(), "a Debug entry must produce no output under a Warning threshold")

	logger.Log(LogEntry{
		Level:       LevelError,
		Category:    "socket",
		SchedulerID: 7,
		TaskID:      3,
		Message:     "accept failed",
		Err:         errors.New("boom"),
		Fields:      map[string]any{"fd": 42},
	})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.True(t, strings.Contains(out, "category=socket"))
	assert.True(t, strings.Contains(out, "scheduler_id=7"))
	assert.True(t, strings.Contains(out, "task_id=3"))
	assert.True(t, strings.Contains(out, "err=boom"))
	assert.True(t, strings.Contains(out, "fd=42"))
	assert.True(t, strings.Contains(out, "msg=accept failed"))
}

func TestLogifaceLogger_SatisfiesLoggerInterface(t *testing.T) {
	var logger Logger = NewLogifaceLogger(&bytes.Buffer{}, logiface.LevelDebug)
	assert.True(t, logger.IsEnabled(LevelInfo))
}

func TestLogifaceLogger_WiredIntoScheduler(t *testing.T) {
	var buf bytes.Buffer
	sched, err := NewScheduler(WithLogger(NewLogifaceLogger(&buf, logiface.LevelDebug)))
	require.NoError(t, err)
	defer sched.Close()

	done := make(chan struct{})
	_, err = TaskStart(sched, func(task *Task) {
		defer close(done)
		sched.logf(LevelInfo, "task", "hello from task %d", task.ID())
	})
	require.NoError(t, err)

	runEchoLoop(t, sched, done)
	assert.Contains(t, buf.String(), "hello from task")
}
