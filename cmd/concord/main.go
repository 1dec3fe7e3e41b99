// Command concord is the generic runtime launcher of spec.md §6: it
// reads a YAML config describing which models, trainers, and
// interaction threads to run, wires them through the orchestrator,
// persistence controller, and control surface, and blocks until
// shutdown.
//
// The launcher's component registry is intentionally small: it only
// knows how to build the gridworld demo's "gridworld_value_fn" and
// "gridworld_mc" component kinds, the only domain implementation this
// module ships. A deployment wanting a different model/trainer writes
// its own launcher modeled on this one's wiring helpers (a main
// package cannot be imported), the same
// way the teacher's own main.go hardcoded its one RL problem.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"concord/internal/config"
	"concord/internal/controlsurface"
	"concord/internal/databuffer"
	"concord/internal/gridworld"
	"concord/internal/interaction"
	"concord/internal/modelregistry"
	"concord/internal/obslog"
	"concord/internal/orchestrator"
	"concord/internal/persistence"
	"concord/internal/telemetry"
	"concord/internal/trainerrt"
	"concord/internal/trigger"
)

const (
	defaultShutdownGrace = 5 * time.Second
	defaultTickInterval  = 20 * time.Millisecond
)

var configPath = flag.String("config", "./config.yaml", "path to the launcher config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "concord: config error: %v\n", err)
		os.Exit(2)
	}

	log := obslog.New(os.Stderr, cfg.LogLevel)

	o := orchestrator.New(log, time.Duration(cfg.MaxUptimeSeconds*float64(time.Second)), defaultShutdownGrace)
	registry := modelregistry.NewRegistry()
	fabric := databuffer.NewFabric()

	if err := wireModels(cfg, registry); err != nil {
		fmt.Fprintf(os.Stderr, "concord: model wiring error: %v\n", err)
		os.Exit(2)
	}
	if err := wireTrainers(cfg, o, registry, fabric, log); err != nil {
		fmt.Fprintf(os.Stderr, "concord: trainer wiring error: %v\n", err)
		os.Exit(2)
	}

	fs := afero.NewOsFs()
	var persister *persistence.Controller
	if cfg.StatesDir != "" {
		var saveTrig trigger.Trigger
		if cfg.SaveIntervalSeconds > 0 {
			saveTrig = trigger.NewTimeInterval(cfg.SaveIntervalSeconds, o.Clock().Virtual())
		}
		persister = persistence.NewController(fs, cfg.StatesDir, cfg.MaxKeepStates, o.Clock(), o, saveTrig, defaultShutdownGrace, log)
		persister.Register("models", registryPersistable{registry})
		persister.Register("buffers", fabricPersistable{fabric})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WebAPIAddress != "" {
		adapter := controlsurface.NewAdapter(buildHandlers(o, persister), log)
		hub := telemetry.NewHub(func() telemetry.Snapshot { return buildSnapshot(o) }, 250*time.Millisecond, log)

		router := adapter.Router()
		router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			hub.ServeWS(ctx, w, r)
		})

		srv := &http.Server{Addr: cfg.WebAPIAddress, Handler: router}
		ln, err := net.Listen("tcp", cfg.WebAPIAddress)
		if err != nil {
			fmt.Fprintf(os.Stderr, "concord: cannot bind web api address: %v\n", err)
			os.Exit(2)
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("web api server failed")
			}
		}()
	}

	if persister != nil {
		if _, err := persister.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("no persistence record restored at startup")
		}
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := persister.MaybeSave(ctx); err != nil {
						log.Warn().Err(err).Msg("periodic save failed")
					}
				}
			}
		}()
	}

	err = o.Start(ctx)
	switch {
	case err == nil:
		os.Exit(0)
	default:
		log.Error().Err(err).Msg("concord exiting with a fatal error")
		os.Exit(1)
	}
}

func buildHandlers(o *orchestrator.Orchestrator, persister *persistence.Controller) controlsurface.Handlers {
	return controlsurface.Handlers{
		Status: func() controlsurface.StatusResponse {
			resp := controlsurface.StatusResponse{
				State:   o.StateString(),
				Threads: mapThreadStatuses(o.ThreadStatuses()),
			}
			if err := o.FatalErrorOrNil(); err != nil {
				resp.FatalError = err.Error()
			}
			return resp
		},
		Pause:    func() error { return o.Pause(defaultShutdownGrace) },
		Resume:   func() error { o.Resume(); return nil },
		Shutdown: func() error { o.Shutdown(); return nil },
		SaveState: func(ctx context.Context, _ string) (string, error) {
			if persister == nil {
				return "", fmt.Errorf("concord: no states_dir configured")
			}
			return persister.Save(ctx)
		},
	}
}

func mapThreadStatuses(in []orchestrator.ThreadStatus) []controlsurface.ThreadStatus {
	out := make([]controlsurface.ThreadStatus, len(in))
	for i, s := range in {
		out[i] = controlsurface.ThreadStatus{Name: s.Name, Ready: s.Ready}
	}
	return out
}

func buildSnapshot(o *orchestrator.Orchestrator) telemetry.Snapshot {
	statuses := o.ThreadStatuses()
	threads := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if s.Ready {
			threads = append(threads, s.Name)
		}
	}
	snap := telemetry.Snapshot{State: o.StateString(), VirtualSec: o.Clock().Virtual(), Threads: threads}
	if err := o.FatalErrorOrNil(); err != nil {
		snap.FatalError = err.Error()
	}
	return snap
}

// gridworldValueFnDef is the "def" shape for a "gridworld_value_fn"
// model block.
type gridworldValueFnDef struct {
	Track     string  `yaml:"track"` // "debug" or "full"
	InitValue float64 `yaml:"init_value"`
}

func wireModels(cfg *config.LauncherConfig, registry *modelregistry.Registry) error {
	for _, block := range cfg.Models {
		switch block.Kind {
		case "gridworld_value_fn":
			var def gridworldValueFnDef
			if err := config.DecodeBlock(block, &def); err != nil {
				return err
			}
			topo := selectTrack(def.Track)
			training := gridworld.NewGridModel(topo, def.InitValue)
			inference := gridworld.NewGridModel(topo, def.InitValue)
			if _, err := registry.Register(block.Name, training, inference); err != nil {
				return err
			}
		default:
			return fmt.Errorf("concord: unrecognized model kind %q", block.Kind)
		}
	}
	return nil
}

// gridworldTrainerDef is the "def" shape for a "gridworld_mc" trainer
// block.
type gridworldTrainerDef struct {
	Model          string  `yaml:"model"`
	Track          string  `yaml:"track"`
	BufferCapacity int     `yaml:"buffer_capacity"`
	Seed           int64   `yaml:"seed"`
	Eta            float64 `yaml:"eta"`
	Epsilon        float64 `yaml:"epsilon"`
	NWorkers       int     `yaml:"nworkers"`
	TriggerSteps   uint64  `yaml:"trigger_steps"`
}

func wireTrainers(cfg *config.LauncherConfig, o *orchestrator.Orchestrator, registry *modelregistry.Registry, fabric *databuffer.Fabric, log zerolog.Logger) error {
	for _, block := range cfg.Trainers {
		switch block.Kind {
		case "gridworld_mc":
			var def gridworldTrainerDef
			if err := config.DecodeBlock(block, &def); err != nil {
				return err
			}
			entry, err := registry.Get(def.Model)
			if err != nil {
				return err
			}
			topo := selectTrack(def.Track)
			bufferName := block.Name + "_transitions"
			if err := databuffer.Register[gridworld.StepTuple](fabric, bufferName, def.BufferCapacity, databuffer.Queue, gridworld.StepTuple{}.FieldNames(), def.Seed); err != nil {
				return err
			}
			collector, err := databuffer.CollectorFor[gridworld.StepTuple](fabric, bufferName)
			if err != nil {
				return err
			}
			user, err := databuffer.UserFor[gridworld.StepTuple](fabric, bufferName)
			if err != nil {
				return err
			}

			trainerGate := o.NewGate()
			trainer := gridworld.NewTrainer(entry, user, def.Eta, log)
			runtime := trainerrt.NewRuntime(registry, trainerGate, o.Clock(), 0, log)
			runtime.Register(block.Name, trainer, trigger.NewStepCount(def.TriggerSteps), def.Model)
			o.RegisterThread(block.Name, runtime.Run, trainerGate, nil)

			for i := 0; i < def.NWorkers; i++ {
				env := gridworld.NewEnvironment(topo, def.Seed+int64(i)+1, collector)
				agent := gridworld.NewAgent(topo, entry, def.Seed+int64(i)+101, def.Epsilon)
				loop := interaction.NewLoop(agent, env)
				gate := o.NewGate()
				fi := interaction.NewFixedIntervalInteraction(loop, o.Clock(), gate, defaultTickInterval, log)
				o.RegisterThread(fmt.Sprintf("%s_worker_%d", block.Name, i), fi.Run, gate, nil)
			}
		default:
			return fmt.Errorf("concord: unrecognized trainer kind %q", block.Kind)
		}
	}
	return nil
}

// registryPersistable and fabricPersistable adapt modelregistry.Registry
// and databuffer.Fabric's SaveAll/LoadAll to contract.Persistable's
// SaveTo/LoadFrom naming so the persistence controller can register
// them directly.
type registryPersistable struct {
	registry *modelregistry.Registry
}

func (r registryPersistable) SaveTo(fs afero.Fs, dir string) error {
	return r.registry.SaveAll(fs, dir)
}

func (r registryPersistable) LoadFrom(fs afero.Fs, dir string) error {
	return r.registry.LoadAll(fs, dir)
}

type fabricPersistable struct {
	fabric *databuffer.Fabric
}

func (f fabricPersistable) SaveTo(fs afero.Fs, dir string) error {
	return f.fabric.SaveAll(fs, dir)
}

func (f fabricPersistable) LoadFrom(fs afero.Fs, dir string) error {
	return f.fabric.LoadAll(fs, dir)
}

func selectTrack(name string) *gridworld.Topology {
	if name == "full" {
		return gridworld.NewTopology(gridworld.FullTrack)
	}
	return gridworld.NewTopology(gridworld.DebugTrack)
}
