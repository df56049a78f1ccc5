// Command wxselftest sets up W^X code patching in its own process and runs
// the patching self-tests against freshly mapped executable memory.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pboyd/wxpatch"
	"github.com/sirupsen/logrus"
)

func main() {
	var verbose = flag.Bool("v", false, "log every step, not just failures")
	var protect = flag.Bool("protect", false, "allow patching by changing page protection")
	flag.Parse()

	cfg := wxpatch.ConfigFromEnv()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	} else if l, ok := cfg.Logger.(*logrus.Logger); ok {
		log.SetLevel(l.GetLevel())
	}
	cfg.Logger = log
	cfg.Protect = cfg.Protect || *protect

	p := wxpatch.New(cfg)
	err := p.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wxselftest: %v\n", err)
		os.Exit(1)
	}

	log.WithField("scratch", fmt.Sprintf("%#x", p.ScratchAddr())).Debug("patching initialized")

	err = wxpatch.SelfTest(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wxselftest: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}
