package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/javanstorm/qvmctl/internal/config"
	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/qemu"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// app is the in-process orchestrator stack built from configuration.
type app struct {
	cfg    *config.Config
	log    hclog.Logger
	sup    *hypervisor.ProcessSupervisor
	images *vm.ImageManager
	orch   *vm.Orchestrator
}

// openApp probes the emulator, validates configuration and loads every
// definition. Callers must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg := currentConfig()
	log := newLogger()

	supCfg := cfg.SupervisorConfig()
	supCfg.Logger = log
	sup, err := hypervisor.New(ctx, supCfg, cfg.EmulatorCandidates)
	if err != nil {
		return nil, fmt.Errorf("create supervisor: %w", err)
	}
	exe := sup.Executable()

	warnings := config.ValidateConfig(cfg, exe)
	if len(warnings) > 0 {
		fmt.Fprint(os.Stderr, config.FormatValidationErrors(warnings))
		if config.HasFatal(warnings) {
			return nil, fmt.Errorf("invalid configuration")
		}
	}

	imgCfg := cfg.ImageConfig()
	imgCfg.Logger = log
	images := vm.NewImageManager(imgCfg)

	orch, err := vm.NewOrchestrator(vm.Options{
		Store:             definition.NewStore(cfg.MachinesDir),
		Builder:           qemu.NewBuilder(cfg.BuilderOptions(exe)),
		Supervisor:        sup,
		Images:            images,
		DiskDir:           cfg.DisksDir,
		History:           vm.NewHistory(cfg.HistoryDir),
		ReconcileInterval: cfg.ReconcileInterval,
		Logger:            log,
	})
	if err != nil {
		return nil, err
	}
	for _, lerr := range orch.LoadErrors() {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", lerr)
	}

	return &app{cfg: cfg, log: log, sup: sup, images: images, orch: orch}, nil
}

// close stops every machine this process started.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StopTimeout+a.cfg.KillTimeout)
	defer cancel()
	if err := a.orch.Close(ctx); err != nil {
		a.log.Warn("shutdown incomplete", "error", err)
	}
	a.sup.Wait()
}
