package wxpatch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pboyd/wxpatch/ppcinst"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoker_ScratchInaccessible(t *testing.T) {
	p, _ := newTestPatcher(t, Config{})
	text := newTestText(t, int(pageSize))

	scratch := p.ScratchAddr()
	require.NotZero(t, scratch)
	assert.Zero(t, scratch&(pageSize-1))

	_, err := ppcinst.Load(scratch)
	assert.ErrorIs(t, err, ErrFault)

	require.NoError(t, p.Patch(text.Addr()+0x20, ppcinst.New(0x48000000)))

	// The alias is gone again.
	_, err = ppcinst.Load(scratch + 0x20)
	assert.ErrorIs(t, err, ErrFault)
}

// wrongFrames sends every write to another text.
type wrongFrames struct {
	text *Text
}

func (f wrongFrames) Frame(addr uintptr) (Frame, bool) {
	return f.text.frame(f.text.Addr()), true
}

func TestPatch_Mismatch(t *testing.T) {
	other := newTestText(t, int(pageSize))
	p, hook := newTestPatcher(t, Config{Frames: wrongFrames{other}})
	text := newTestText(t, int(pageSize))

	inst := ppcinst.New(0x48000000)
	err := p.Patch(text.Addr()+0x10, inst)
	assert.ErrorIs(t, err, ErrMismatch)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "patch verification failed", entry.Message)
	assert.Contains(t, entry.Data["expected"], "b ")
	assert.Contains(t, entry.Data["found"], "nop")

	// It landed in the other text instead.
	assert.Equal(t, ppcinst.New(nopWord), loadInst(t, text.Addr()+0x10))
	assert.Equal(t, inst, loadInst(t, other.Addr()+0x10))
}

func TestNewPoker(t *testing.T) {
	log, _ := testLogger()

	t.Run("window too small", func(t *testing.T) {
		_, err := NewPoker(Config{ScratchWindow: 2 * pageSize, Logger: log})
		assert.ErrorIs(t, err, ErrNoScratch)
	})

	t.Run("address taken", func(t *testing.T) {
		const v = 1 << 28

		first, err := NewPoker(Config{Rand: fixedReader(v), Logger: log})
		require.NoError(t, err)
		assert.Equal(t, pageSize+v, first.Addr())

		_, err = NewPoker(Config{Rand: fixedReader(v), ScratchAttempts: 4, Logger: log})
		assert.ErrorIs(t, err, ErrNoScratch)
		assert.ErrorIs(t, err, errScratchTaken)
	})

	t.Run("short rand", func(t *testing.T) {
		_, err := NewPoker(Config{Rand: bytes.NewReader(nil), Logger: log})
		assert.ErrorIs(t, err, ErrNoScratch)
	})
}

func TestPoker_NoAllocs(t *testing.T) {
	p, _ := newTestPatcher(t, Config{})
	text := newTestText(t, int(pageSize))
	pk := p.poker.Load()

	unlock := p.Lock()
	defer unlock()

	var err error
	allocs := testing.AllocsPerRun(50, func() {
		err = pk.poke(text.Addr()+0x10, ppcinst.New(0x48000000))
	})
	require.NoError(t, err)
	assert.Zero(t, allocs)
}

func TestDropScratch(t *testing.T) {
	p, _ := newTestPatcher(t, Config{})
	text := newTestText(t, int(pageSize))
	pk := p.poker.Load()

	unlock := p.Lock()
	defer unlock()

	require.NoError(t, mapScratch(pk.addr, pk.page, text.frame(text.Addr())))
	assert.Equal(t, ppcinst.New(nopWord), loadInst(t, pk.addr+0x10))

	cause := errors.New("remap failed")
	err := dropScratch(pk.addr, pk.page, cause)
	assert.Equal(t, cause, err)
	assert.NotErrorIs(t, err, errScratchLost)

	// The alias is gone and the slot is held again.
	_, err = ppcinst.Load(pk.addr + 0x10)
	assert.ErrorIs(t, err, ErrFault)
	assert.ErrorIs(t, reserveScratch(pk.addr, pk.page), errScratchTaken)

	require.NoError(t, p.PatchUnlocked(text.Addr()+0x10, ppcinst.New(0x48000000)))
	assert.Equal(t, ppcinst.New(0x48000000), loadInst(t, text.Addr()+0x10))
}

func TestPoker_ScratchLost(t *testing.T) {
	p, _ := newTestPatcher(t, Config{})
	text := newTestText(t, int(pageSize))
	pk := p.poker.Load()

	unlock := p.Lock()
	defer unlock()

	pk.lost = true
	defer func() { pk.lost = false }()

	// Falls back to changing the protection.
	require.NoError(t, p.PatchUnlocked(text.Addr(), ppcinst.New(0x48000000)))
	assert.Equal(t, ppcinst.New(0x48000000), loadInst(t, text.Addr()))

	err := ppcinst.Store(text.Addr(), ppcinst.New(nopWord))
	assert.ErrorIs(t, err, ErrFault)
}
