package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel("debug"))
	assert.Equal(t, Warn, ParseLevel("WARNING"))
	assert.Equal(t, Off, ParseLevel("silent"))
	assert.Equal(t, Error, ParseLevel("bogus"))
}

func TestSetLevelStringRejectsUnknown(t *testing.T) {
	err := SetLevelString("bogus")
	assert.Error(t, err)
}

func TestSetLevelStringAccepted(t *testing.T) {
	defer SetLevel(Info)
	require.NoError(t, SetLevelString("warn"))
	assert.Equal(t, Warn, GetLevel())
}

func TestLoggerRespectsPerInstanceLevel(t *testing.T) {
	var buf bytes.Buffer
	orig := appInfoW
	appInfoW = &buf
	defer func() { appInfoW = orig }()

	l := New(WithPrefix("test"), WithLogLevel(Warn))
	l.Infof("should not appear")
	assert.Empty(t, buf.String())

	l.Warnf("should appear")
	assert.True(t, strings.Contains(buf.String(), "should appear"))
	assert.True(t, strings.Contains(buf.String(), "test"))
}
