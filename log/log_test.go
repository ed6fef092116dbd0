package log

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
	})
	return buf
}

func TestLevelGating(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info(context.Background(), "hidden", F{})
	Warn(context.Background(), "shown", F{"stream": "order-1"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN: shown {stream=order-1}")
}

func TestLinesCarryCorrelationID(t *testing.T) {
	buf := capture(t)
	id := uuid.New()
	ctx := WithGivenID(context.Background(), id)

	Info(ctx, "appended", F{"count": 2})

	assert.True(t, strings.HasPrefix(strings.SplitN(buf.String(), " ", 3)[2], "["+id.String()+"]"))
}

func TestWithIDKeepsExisting(t *testing.T) {
	ctx := WithID(context.Background())
	first := GetID(ctx)

	assert.NotEqual(t, uuid.Nil, first)
	assert.Equal(t, first, GetID(WithID(ctx)))
}

func TestErrorReturnsLoggedError(t *testing.T) {
	capture(t)
	cause := errors.New("boom")

	err := Error(context.Background(), cause, F{})
	assert.Same(t, cause, err)

	err = Error(context.Background(), "plain", F{})
	assert.EqualError(t, err, "plain")
}

func TestFieldsAreSorted(t *testing.T) {
	assert.Equal(t, "{a=1 b=2}", F{"b": 2, "a": 1}.String())
	assert.Equal(t, "", F{}.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("Warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
