package server

import (
	"fmt"
	"log/slog"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/bpffs"
	"github.com/frobware/go-shaperman/driver/edt"
	"github.com/frobware/go-shaperman/driver/htb"
	"github.com/frobware/go-shaperman/driver/sim"
)

// backends constructs driver instances on first use, so a config that
// never mentions the edt backend never touches bpffs. One instance
// serves every device bound to the same backend.
type backends struct {
	logger   *slog.Logger
	bpffsDir string

	sim *sim.Driver
	htb *htb.Driver
	edt *edt.Driver
}

func newBackends(logger *slog.Logger, bpffsDir string) *backends {
	if bpffsDir == "" {
		bpffsDir = edt.DefaultPinDir
	}
	return &backends{logger: logger, bpffsDir: bpffsDir}
}

func (b *backends) get(name string) (shaperman.Driver, error) {
	switch name {
	case "sim":
		if b.sim == nil {
			b.sim = sim.New(b.logger)
		}
		return b.sim, nil
	case "htb":
		if b.htb == nil {
			b.htb = htb.New(b.logger)
		}
		return b.htb, nil
	case "edt":
		if b.edt == nil {
			if err := bpffs.EnsureMounted(bpffs.DefaultMountInfoPath, b.bpffsDir); err != nil {
				return nil, fmt.Errorf("edt backend: %w", err)
			}
			d, err := edt.New(b.logger, edt.WithPinDir(b.bpffsDir))
			if err != nil {
				return nil, fmt.Errorf("edt backend: %w", err)
			}
			b.edt = d
		}
		return b.edt, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want sim, htb or edt)", name)
	}
}

// Close releases backend resources. Only the edt backend holds any.
func (b *backends) Close() error {
	if b.edt == nil {
		return nil
	}
	return b.edt.Close()
}
