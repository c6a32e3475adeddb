// internal/logging/log_test.go
package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, LInfo)
	l.SetFlags(0)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("bad %s", "thing")

	assert.Equal(t, "shown 2\nerror: bad thing\n", buf.String())

	buf.Reset()
	l.SetLevel(LDebug)
	l.Debugf("now visible")
	assert.Equal(t, "debug: now visible\n", buf.String())
}

func TestNilLogDiscards(t *testing.T) {
	t.Parallel()
	var l *Log
	assert.False(t, l.Enabled(LError))
	l.Infof("nothing")
	l.Debugf("nothing")
	l.SetPrefix("x")
	assert.Nil(t, l.Clone(LDebug))
}

func TestClonePrefix(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, LError)
	l.SetFlags(0)
	l.SetPrefix("tss: ")

	c := l.Clone(LDebug)
	c.Debugf("x=%d", 5)
	l.Debugf("dropped")

	assert.Equal(t, "tss: debug: x=5\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]Level{"": LInfo, "INFO": LInfo, "debug": LDebug, " error ": LError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewFileFallsBackToStderr(t *testing.T) {
	t.Parallel()
	l := NewFile(FileConfig{}, LInfo)
	require.NotNil(t, l)
	assert.True(t, l.Enabled(LInfo))
}
