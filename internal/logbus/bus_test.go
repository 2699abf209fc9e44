package logbus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRingBuffer(t *testing.T) {
	b := New(2)
	b.Log(LevelInfo, "one", nil)
	b.Log(LevelWarn, "two", nil)
	b.Log(LevelError, "three", map[string]any{"k": "v"})

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "two", snap[0].Data.(LogData).Msg)
	assert.Equal(t, "three", snap[1].Data.(LogData).Msg)
	assert.Equal(t, LevelError, snap[1].Data.(LogData).Level)
}

func TestBusSubscribe(t *testing.T) {
	b := New(10)
	ch, cancel := b.Subscribe(4)

	b.LogQuiet(LevelDebug, "hello", nil)
	msg := <-ch
	assert.Equal(t, "log", msg.Type)
	assert.Equal(t, "hello", msg.Data.(LogData).Msg)

	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	b.Close()
	b.Log(LevelInfo, "after close", nil)
	assert.Empty(t, b.Snapshot())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelException, ParseLevel("exception"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.True(t, LevelError.AtLeast(LevelWarn))
	assert.False(t, LevelDebug.AtLeast(LevelInfo))
}

func TestSinkWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(SinkOptions{Name: "test", Dir: dir, Level: LevelInfo, Location: time.UTC})
	require.NoError(t, err)

	b := New(10).WithSink(sink)
	b.Log(LevelInfo, "visible line", map[string]any{"username": "alice"})
	b.LogQuiet(LevelDebug, "filtered line", nil)
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "visible line")
	assert.Contains(t, content, "alice")
	assert.False(t, strings.Contains(content, "filtered line"))
}

func TestDailyFileRotates(t *testing.T) {
	dir := t.TempDir()
	shanghai := time.FixedZone("CST", 8*3600)
	// 23:59 北京时间，UTC 仍是当天 15:59。
	now := time.Date(2025, 3, 1, 15, 59, 0, 0, time.UTC)
	f, err := openDailyFile(dir, zoneClock{loc: shanghai, now: func() time.Time { return now }}, 0)
	require.NoError(t, err)

	_, err = f.Write([]byte("a\n"))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = f.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	first, err := os.ReadFile(filepath.Join(dir, "2025-03-01.log"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "2025-03-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(first))
	assert.Equal(t, "b\n", string(second))
}
