package wxpatch

import (
	"crypto/rand"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/xyproto/env/v2"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvScratchWindow   = "WXPATCH_SCRATCH_WINDOW"
	EnvScratchAttempts = "WXPATCH_SCRATCH_ATTEMPTS"
	EnvProtect         = "WXPATCH_PROTECT"
	EnvLogLevel        = "WXPATCH_LOG_LEVEL"
)

const defaultScratchAttempts = 16

// Config controls how a Patcher sets up and uses its scratch mapping. The
// zero value is usable; unset fields get defaults.
type Config struct {
	// ScratchWindow is the upper bound for the scratch address. It is
	// chosen from [page, ScratchWindow-page).
	ScratchWindow uintptr

	// ScratchAttempts is how many random addresses are tried before
	// giving up because they are all in use.
	ScratchAttempts int

	// Protect allows patching memory that doesn't belong to a Text by
	// flipping its page to read/write and back to read/execute. The page
	// can't be executed while that happens.
	Protect bool

	// Frames finds the memory backing an address. Defaults to the Text
	// regions of this process.
	Frames FrameResolver

	// Reclaimed reports memory that has been released and must not be
	// patched. Defaults to the Text regions of this process.
	Reclaimed Reclaimer

	// Breakpoints are disabled while an alias is mapped. Nil if there
	// are none.
	Breakpoints BreakpointUnit

	Logger logrus.FieldLogger

	// Rand is the source for the scratch address. Defaults to
	// crypto/rand.
	Rand io.Reader
}

// ConfigFromEnv returns a Config using the WXPATCH_* environment variables.
func ConfigFromEnv() Config {
	// env caches the environment the first time it's used, which is the
	// default Patcher during package init.
	env.Load()

	var cfg Config

	if s := env.Str(EnvScratchWindow); s != "" {
		if v, err := strconv.ParseUint(s, 0, strconv.IntSize); err == nil {
			cfg.ScratchWindow = uintptr(v)
		}
	}
	cfg.ScratchAttempts = env.Int(EnvScratchAttempts, defaultScratchAttempts)
	cfg.Protect = env.Bool(EnvProtect)
	cfg.Logger = newLogger(env.Str(EnvLogLevel, "warn"))

	return cfg
}

func (c Config) withDefaults() Config {
	if c.ScratchWindow == 0 {
		c.ScratchWindow = defaultScratchWindow()
	}
	if c.ScratchAttempts <= 0 {
		c.ScratchAttempts = defaultScratchAttempts
	}
	if c.Frames == nil {
		c.Frames = texts
	}
	if c.Reclaimed == nil {
		c.Reclaimed = texts
	}
	if c.Logger == nil {
		c.Logger = newLogger("warn")
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	return c
}

// defaultScratchWindow keeps the scratch address below the 47-bit user
// address limit on 64-bit hosts.
func defaultScratchWindow() uintptr {
	bits := uint(46)
	if strconv.IntSize == 32 {
		bits = 30
	}
	return 1 << bits
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}
