// pagestorectl is a small driver for pkg/engine: open a file, fix and
// unfix a page, checkpoint, verify, close. It exists to exercise the
// storage core end to end the way a real collaborator (an index driver,
// a catalog) would, without pulling in anything SQL- or network-shaped.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nainya/pagestore/internal/config"
	"github.com/nainya/pagestore/internal/logger"
	"github.com/nainya/pagestore/pkg/buffer"
	"github.com/nainya/pagestore/pkg/engine"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/verify"
)

var (
	dbPath     = flag.String("db", "pagestore.db", "database file path prefix (.master/.vlog/.slog are appended)")
	configPath = flag.String("config", "", "optional YAML config file")
	pageSize   = flag.Uint("page-size", 8192, "page size in bytes: sizes the buffer pool's frames and, when creating a new file, its pages")
	fileKind   = flag.String("kind", "page-managed", "page-managed | area-managed | direct-area | non-managed")
	verifyOnly = flag.Bool("verify", false, "run a verify pass over the file and exit")
	treatment  = flag.String("treatment", "read-only", "read-only | correct | force, for -verify")
)

func parseFileKind(s string) (engine.FileKind, bool) {
	switch s {
	case "page-managed":
		return engine.PageManaged, true
	case "area-managed":
		return engine.AreaManaged, true
	case "direct-area":
		return engine.DirectArea, true
	case "non-managed":
		return engine.NonManaged, true
	default:
		return 0, false
	}
}

func parseTreatment(s string) (verify.Treatment, bool) {
	switch s {
	case "read-only":
		return verify.ReadOnly, true
	case "correct":
		return verify.Correct, true
	case "force":
		return verify.Force, true
	default:
		return 0, false
	}
}

func main() {
	flag.Parse()

	log := logger.NewLogger(logger.Config{Level: "info", Pretty: true})

	kind, ok := parseFileKind(*fileKind)
	if !ok {
		log.Fatal("unrecognized -kind").Str("kind", *fileKind).Msg("")
	}
	want, ok := parseTreatment(*treatment)
	if !ok {
		log.Fatal("unrecognized -treatment").Str("treatment", *treatment).Msg("")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed").Err(err).Msg("")
	}

	log.LogEngineStart(*dbPath)
	m := engine.New(cfg, log, int(*pageSize))

	key, err := m.Open(*dbPath, uint32(*pageSize), kind)
	if err != nil {
		log.Fatal("open failed").Err(err).Msg("")
	}
	log.LogEngineReady(*dbPath)

	if *verifyOnly {
		runVerify(m, key, want, log)
		if err := m.Close(); err != nil {
			log.Error("close failed").Err(err).Msg("")
		}
		return
	}

	m.StartDaemons()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.LogEngineShutdown()
		if err := m.Close(); err != nil {
			log.Error("close failed").Err(err).Msg("")
		}
		os.Exit(0)
	}()

	if err := exerciseOneFixUnfix(m, key, kind); err != nil {
		log.Fatal("fix/unfix exercise failed").Err(err).Msg("")
	}

	if err := m.Checkpoint(); err != nil {
		log.Fatal("checkpoint failed").Err(err).Msg("")
	}
	log.Info("checkpoint complete").Msg("")

	runVerify(m, key, want, log)

	log.LogEngineShutdown()
	if err := m.Close(); err != nil {
		log.Fatal("close failed").Err(err).Msg("")
	}
}

// exerciseOneFixUnfix allocates a page (for every file kind, including a
// direct-area file) and writes a byte pattern under a Write fix, then
// fixes it again under ReadOnly — the round trip every index driver built on
// pkg/pagehandle performs through engine.Manager.
func exerciseOneFixUnfix(m *engine.Manager, key buffer.FileKey, kind engine.FileKind) error {
	ctx := context.Background()

	id, err := m.AllocatePage(key)
	if err != nil {
		return err
	}

	h, err := m.Attach(ctx, nil, key, id, page.Write, page.Middle)
	if err != nil {
		return err
	}
	buf := h.GetBuffer()
	for i := range buf {
		buf[i] = 0x5a
	}
	if err := h.Dirty(); err != nil {
		return err
	}
	if err := h.Detach(page.NotDirty); err != nil {
		return err
	}

	h2, err := m.Attach(ctx, nil, key, id, page.ReadOnly, page.Middle)
	if err != nil {
		return err
	}
	defer h2.Detach(page.NotDirty)

	_ = kind // the written pattern is page-wide regardless of how the page is further subdivided
	return nil
}

func runVerify(m *engine.Manager, key buffer.FileKey, treatment verify.Treatment, log *logger.Logger) {
	report, err := m.Verify(key, treatment, verify.Detailed)
	if err != nil {
		log.Error("verify failed").Err(err).Msg("")
		return
	}
	log.Info("verify complete").
		Int("pagesScanned", report.PagesScanned).
		Int("areasScanned", report.AreasScanned).
		Int("findings", len(report.Findings)).
		Msg("")
}
