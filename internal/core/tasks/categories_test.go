package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCategories(t *testing.T) {
	cats := DefaultCategories()
	for _, name := range []string{"heartbeat", "once", "pull_db", "decrypt", "pull_res"} {
		assert.Contains(t, cats, name)
	}
	assert.Len(t, cats, 5)
}

func TestValidateProjectName(t *testing.T) {
	for _, ok := range []string{"backup-2024", "wx_main", "张三"} {
		assert.NoError(t, ValidateProjectName(ok), ok)
	}
	for _, bad := range []string{"", " ", ".", "..", "a/b", `a\b`, "x..y"} {
		assert.ErrorIs(t, ValidateProjectName(bad), ErrInvalidProjectName, bad)
	}
}

func TestLayout(t *testing.T) {
	l := DefaultLayout()

	assert.Equal(t, "/data/data/com.tencent.mm/MicroMsg/abc/EnMicroMsg.db", l.RemoteDB("abc"))
	assert.Equal(t, "/mnt/sdcard/tencent/MicroMsg/abc", l.RemoteResources("abc"))
	assert.Equal(t, "DeMicroMsg.db", l.DecryptedFile())

	dir, err := l.ProjectDir("proj")
	require.NoError(t, err)
	assert.Equal(t, "data/proj", dir)
	_, err = l.ProjectDir("../proj")
	assert.ErrorIs(t, err, ErrInvalidProjectName)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, `o''brien`, sqlQuote("o'brien"))
}

func TestGrowthWatch(t *testing.T) {
	clock := newFakeClock()
	w := newGrowthWatch(2*time.Second, clock.Now)

	assert.True(t, w.observe(0))
	clock.Advance(2 * time.Second)
	assert.True(t, w.observe(0))
	clock.Advance(time.Millisecond)
	assert.False(t, w.observe(0))
	assert.True(t, w.observe(10))
}

func TestDepsDefaults(t *testing.T) {
	adder := &fakeAdder{}
	deps := Deps{}.withDefaults(adder, nil)

	assert.Same(t, adder, deps.Tasks)
	assert.Equal(t, DefaultChannel, deps.Channel)
	assert.Equal(t, 10*time.Second, deps.Defaults.AliveTimeout)
	assert.Equal(t, time.Second, deps.Defaults.CheckerInterval)
	assert.Equal(t, context.Background(), deps.Context)
	_, err := deps.Commands.Resolve(CmdCheckResourceProgress)
	assert.NoError(t, err)
}
