package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaultsAndReturnsPositionalArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts, rest, err := Parse(fs, []string{
		"-job-count=8",
		"-unload-timer=2m",
		"-multicast-forwards=host1:7001,host2:7002",
		"-include-paths=/usr/local/include,/opt/include",
		"-wall",
		"src1", "src2",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, opts.JobCount)
	assert.Equal(t, 2*time.Minute, opts.UnloadTimer)
	require.Len(t, opts.MulticastForwards, 2)
	assert.Equal(t, uint16(7002), opts.MulticastForwards[1].Port)
	assert.Len(t, opts.IncludePaths, 2)
	assert.NotZero(t, opts.Flags&OptWall)
	assert.Equal(t, []string{"src1", "src2"}, rest)
}

func TestParseKeepsDefaultsWhenUnset(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts, _, err := Parse(fs, nil)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.JobCount, opts.JobCount)
	assert.Equal(t, def.SocketFile, opts.SocketFile)
}

func TestParseForwardsSkipsMalformedEntries(t *testing.T) {
	got := parseForwards("good:123,bad,also:notaport")
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Host)
	assert.Equal(t, uint16(123), got[0].Port)
}
