package log_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/joyline/joycore/internal/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.LevelTrace, log.ParseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, log.ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, log.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, log.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("bogus"))
}

func TestRawLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	r := log.NewRaw(&buf)

	r.Log(true, []byte{0x30, 0x0F, 0xAB})
	r.Log(false, []byte{0x01})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "D->H report: 3 bytes, hex: 30 0f ab")
	assert.Contains(t, lines[1], "H->D report: 1 bytes, hex: 01")
}

func TestRawLoggerNilWriterIsNoop(t *testing.T) {
	r := log.NewRaw(nil)
	assert.NotPanics(t, func() { r.Log(true, []byte{0x01, 0x02}) })
}

func TestRawLoggerSkipsEmptyReports(t *testing.T) {
	var buf bytes.Buffer
	r := log.NewRaw(&buf)
	r.Log(false, nil)
	assert.Zero(t, buf.Len())
}
