package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		msg         string
		stop        bool
		unreachable bool
		severity    Severity
	}{
		{"Execution stopped by user", true, false, SeverityInfo},
		{"INTERRUPTED", true, false, SeverityInfo},
		{"LLM provider runtime is unreachable", false, true, SeverityError},
		{"Runtime Is Unreachable; run stopped", true, true, SeverityInfo},
		{"division by zero", false, false, SeverityError},
		// Known weak point: a failure whose text mentions "stopped" reads as a stop.
		{"worker stopped responding and crashed", true, false, SeverityInfo},
		{"", false, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.stop, IsStopMessage(tt.msg))
			assert.Equal(t, tt.unreachable, IsRuntimeUnreachable(tt.msg))
			assert.Equal(t, tt.severity, SeverityFor(tt.msg))
		})
	}
}

func TestExecutionStatus(t *testing.T) {
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusWaiting.Active())
	assert.True(t, StatusRunning.Active())
	assert.False(t, StatusIdle.Active())
}
