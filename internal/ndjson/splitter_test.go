package ndjson

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterAcrossChunks(t *testing.T) {
	s := NewSplitter(0)

	first := s.Feed([]byte(`{"a":1}` + "\n" + `{"b"`))
	require.Len(t, first, 1)
	assert.JSONEq(t, `{"a":1}`, string(first[0]))
	assert.Equal(t, len(`{"b"`), s.Pending())

	second := s.Feed([]byte(`:2}` + "\n"))
	require.Len(t, second, 1)
	assert.JSONEq(t, `{"b":2}`, string(second[0]))
	assert.Zero(t, s.Pending())
}

func TestSplitterSkipsBlankAndStripsCR(t *testing.T) {
	s := NewSplitter(0)
	lines := s.Feed([]byte("one\r\n\n\ntwo\nthr"))
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
	assert.Equal(t, 3, s.Pending())
}

func TestSplitterDropsOversizeFragment(t *testing.T) {
	s := NewSplitter(8)
	assert.Empty(t, s.Feed([]byte("0123456789")))
	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, s.Dropped())

	// The tail of the oversize line is still emitted once terminated; callers
	// discard it as unparseable.
	lines := s.Feed([]byte("abc\n{}\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "{}", string(lines[1]))
}

func TestSplitterReturnsIndependentSlices(t *testing.T) {
	s := NewSplitter(0)
	lines := s.Feed([]byte("aa\nbb\n"))
	lines[0][0] = 'x'
	assert.Equal(t, "bb", string(lines[1]))
}

// chunkReader returns its chunks one Read at a time.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestReadObjectsSkipsMalformed(t *testing.T) {
	r := &chunkReader{chunks: []string{`{"a":1}` + "\nnot json\n" + `{"b"`, `:2}` + "\n" + `{"c":`}}

	var got []string
	require.NoError(t, ReadObjects(r, 0, func(m json.RawMessage) { got = append(got, string(m)) }))
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestReadObjectsPropagatesReadError(t *testing.T) {
	boom := errors.New("pipe broke")
	r := &chunkReader{chunks: []string{"{}\n"}, err: boom}

	count := 0
	err := ReadObjects(r, 0, func(json.RawMessage) { count++ })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count)
}

func TestReadObjectsFromStringsReader(t *testing.T) {
	var got int
	require.NoError(t, ReadObjects(strings.NewReader("1\n2\n3"), 0, func(json.RawMessage) { got++ }))
	assert.Equal(t, 2, got, "trailing fragment without newline is never emitted")
}
