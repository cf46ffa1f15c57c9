package vterm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBufferSplitsLinesAndCaps(t *testing.T) {
	b := NewOutputBuffer(2)
	_, err := b.Write([]byte("one\ntwo\nthree\n"))
	require.NoError(t, err)

	lines := b.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "two", string(lines[0]))
	assert.Equal(t, "three", string(lines[1]))
}

func TestOutputBufferRetainsPartialLineAcrossWrites(t *testing.T) {
	b := NewOutputBuffer(10)
	_, err := b.Write([]byte("hel"))
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())

	_, err = b.Write([]byte("lo\n"))
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, "hello", string(b.Lines()[0]))
}

func TestVirtualTerminalWriteAndContent(t *testing.T) {
	vt := New(24, 80, 1000)
	_, err := vt.Write([]byte("hello\r\n"))
	require.NoError(t, err)

	content := vt.Content()
	require.NotEmpty(t, content)
	assert.Contains(t, string(content[0]), "hello")
}

func TestRespondOSCColorsTriggersWriteback(t *testing.T) {
	vt := New(24, 80, 100)
	var responses [][]byte
	err := vt.RespondOSCColors([]byte("\x1b]10;?\a"), "dark", func(b []byte) error {
		responses = append(responses, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Contains(t, string(responses[0]), "\x1b]10;rgb:")
}

func TestRespondOSCColorsIgnoresUnrelatedData(t *testing.T) {
	vt := New(24, 80, 100)
	var calls int
	err := vt.RespondOSCColors([]byte("plain output\n"), "dark", func(b []byte) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}
