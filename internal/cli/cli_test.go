package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	ForceColors(false)

	out := Table([]string{"SOURCE", "TICKS"}, [][]string{
		{"now_playing", "12"},
		{"system_volume", "3"},
	})
	assert.Equal(t, ""+
		"SOURCE         TICKS\n"+
		"now_playing    12\n"+
		"system_volume  3\n", out)
}

func TestTableAlignsStyledCells(t *testing.T) {
	ForceColors(true)
	defer ForceColors(false)

	out := Table(nil, [][]string{
		{StateText("running"), "a"},
		{"failed", "b"},
	})
	ForceColors(false)
	assert.Contains(t, out, "a\n")
	assert.Contains(t, out, "failed   b\n")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestStylesDisabled(t *testing.T) {
	ForceColors(false)
	assert.Equal(t, "failed", StateText("failed"))
	assert.Equal(t, CheckMark, Indicator(true))
	assert.Equal(t, CrossMark, Indicator(false))
}
