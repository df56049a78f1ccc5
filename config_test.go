package wxpatch

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvScratchWindow, "0x40000000")
	t.Setenv(EnvScratchAttempts, "3")
	t.Setenv(EnvProtect, "true")
	t.Setenv(EnvLogLevel, "debug")

	cfg := ConfigFromEnv()
	assert.Equal(t, uintptr(0x40000000), cfg.ScratchWindow)
	assert.Equal(t, 3, cfg.ScratchAttempts)
	assert.True(t, cfg.Protect)

	log, ok := cfg.Logger.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestConfigFromEnv_Reread(t *testing.T) {
	t.Setenv(EnvScratchAttempts, "3")
	assert.Equal(t, 3, ConfigFromEnv().ScratchAttempts)

	// Changes made after the first read are seen.
	t.Setenv(EnvScratchAttempts, "7")
	t.Setenv(EnvProtect, "true")
	cfg := ConfigFromEnv()
	assert.Equal(t, 7, cfg.ScratchAttempts)
	assert.True(t, cfg.Protect)
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv(EnvScratchWindow, "")
	t.Setenv(EnvScratchAttempts, "")
	t.Setenv(EnvProtect, "")
	t.Setenv(EnvLogLevel, "")

	cfg := ConfigFromEnv().withDefaults()
	assert.Equal(t, defaultScratchWindow(), cfg.ScratchWindow)
	assert.Equal(t, defaultScratchAttempts, cfg.ScratchAttempts)
	assert.False(t, cfg.Protect)
	assert.Equal(t, texts, cfg.Frames)
	assert.Equal(t, texts, cfg.Reclaimed)
	assert.NotNil(t, cfg.Rand)

	log, ok := cfg.Logger.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv(EnvScratchWindow, "lots")
	t.Setenv(EnvLogLevel, "loud")

	cfg := ConfigFromEnv()
	assert.Zero(t, cfg.ScratchWindow)

	log, ok := cfg.Logger.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
}

func TestScratchAddr(t *testing.T) {
	const window = 1 << 30

	for _, v := range []uint64{0, 1, 0xfff, 0x1000, window - 1, window, 1<<63 + 12345, ^uint64(0)} {
		addr, err := scratchAddr(fixedReader(v), window, pageSize)
		require.NoError(t, err)

		assert.Zero(t, addr&(pageSize-1), "%#x", v)
		assert.GreaterOrEqual(t, addr, pageSize, "%#x", v)
		assert.LessOrEqual(t, addr+pageSize, uintptr(window)-pageSize, "%#x", v)
	}
}

// fixedReader returns v over and over, little endian.
func fixedReader(v uint64) *bytes.Reader {
	buf := make([]byte, 8*64)
	for i := 0; i < len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], v)
	}
	return bytes.NewReader(buf)
}
