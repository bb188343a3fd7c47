package chantrace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRing_wraps(t *testing.T) {
	r := New(3)
	base := time.Unix(0, 0)
	r.Add(SeverityInfo, "a", base)
	r.Add(SeverityInfo, "b", base.Add(time.Second))
	r.Add(SeverityWarning, "c", base.Add(2*time.Second))
	r.Add(SeverityError, "d", base.Add(3*time.Second))

	got := r.Snapshot()
	if assert.Len(t, got, 3) {
		assert.Equal(t, "b", got[0].Message)
		assert.Equal(t, "c", got[1].Message)
		assert.Equal(t, "d", got[2].Message)
		assert.Equal(t, SeverityError, got[2].Severity)
	}
}

func TestRing_partial(t *testing.T) {
	r := New(4)
	r.Add(SeverityInfo, "only", time.Now())
	got := r.Snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, "only", got[0].Message)
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "error", SeverityError.String())
}
