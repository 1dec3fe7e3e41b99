// Command concord-demo is the race-track reinforcement learning demo,
// the direct descendant of the teacher's single-file main.go: it hardcodes
// one model, one trainer, and a pool of interaction workers instead of
// reading a config file, and serves a plain-text value-function view at
// /grid plus a websocket status stream at /ws instead of the teacher's
// template-rendered SVG page.
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

	"github.com/spf13/afero"

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

var (
	debug         = flag.Bool("debug", true, "use the small debug track instead of the full race track")
	nworkers      = flag.Int("nworkers", 4, "number of concurrent agent/environment interaction workers")
	host          = flag.String("host", "localhost", "web api bind host")
	port          = flag.Int("port", 8080, "web api bind port")
	eta           = flag.Float64("eta", 0.05, "every-visit Monte Carlo learning rate")
	epsilon       = flag.Float64("epsilon", 0.1, "epsilon-greedy exploration rate")
	triggerSteps  = flag.Uint64("trigger-steps", 200, "transitions collected before a training pass runs")
	maxUptime     = flag.Duration("max-uptime", 0, "stop automatically after this long (0 disables)")
	statesDir     = flag.String("states-dir", "", "directory for periodic state snapshots (empty disables persistence)")
	saveInterval  = flag.Float64("save-interval-seconds", 30, "virtual seconds between snapshots, when states-dir is set")
	shutdownGrace = 5 * time.Second
)

func main() {
	flag.Parse()
	rand := time.Now().UnixNano()

	log := obslog.New(os.Stderr, "info")

	topo := gridworld.NewTopology(gridworld.DebugTrack)
	if !*debug {
		topo = gridworld.NewTopology(gridworld.FullTrack)
	}

	registry := modelregistry.NewRegistry()
	training := gridworld.NewGridModel(topo, gridworld.CollisionReward+1)
	inference := gridworld.NewGridModel(topo, gridworld.CollisionReward+1)
	entry, err := registry.Register("value-fn", training, inference)
	if err != nil {
		fmt.Fprintf(os.Stderr, "concord-demo: %v\n", err)
		os.Exit(1)
	}

	fabric := databuffer.NewFabric()
	if err := databuffer.Register[gridworld.StepTuple](fabric, "transitions", 4096, databuffer.Queue, gridworld.StepTuple{}.FieldNames(), rand); err != nil {
		fmt.Fprintf(os.Stderr, "concord-demo: %v\n", err)
		os.Exit(1)
	}
	collector, err := databuffer.CollectorFor[gridworld.StepTuple](fabric, "transitions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "concord-demo: %v\n", err)
		os.Exit(1)
	}
	user, err := databuffer.UserFor[gridworld.StepTuple](fabric, "transitions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "concord-demo: %v\n", err)
		os.Exit(1)
	}

	o := orchestrator.New(log, *maxUptime, shutdownGrace)

	for i := 0; i < *nworkers; i++ {
		env := gridworld.NewEnvironment(topo, rand+int64(i)+1, collector)
		agent := gridworld.NewAgent(topo, entry, rand+int64(i)+101, *epsilon)
		loop := interaction.NewLoop(agent, env)
		gate := o.NewGate()
		fi := interaction.NewFixedIntervalInteraction(loop, o.Clock(), gate, 20*time.Millisecond, log)
		o.RegisterThread(fmt.Sprintf("worker_%d", i), fi.Run, gate, nil)
	}

	trainerGate := o.NewGate()
	trainer := gridworld.NewTrainer(entry, user, *eta, log)
	runtime := trainerrt.NewRuntime(registry, trainerGate, o.Clock(), 0, log)
	runtime.Register("estimator", trainer, trigger.NewStepCount(*triggerSteps), "value-fn")
	o.RegisterThread("trainer", runtime.Run, trainerGate, nil)

	var persister *persistence.Controller
	if *statesDir != "" {
		fs := afero.NewOsFs()
		saveTrig := trigger.NewTimeInterval(*saveInterval, o.Clock().Virtual())
		persister = persistence.NewController(fs, *statesDir, 5, o.Clock(), o, saveTrig, shutdownGrace, log)
		persister.Register("models", registryPersistable{registry})
		persister.Register("buffers", fabricPersistable{fabric})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	addr := fmt.Sprintf("%s:%d", *host, *port)
	handlers := controlsurface.Handlers{
		Status: func() controlsurface.StatusResponse {
			resp := controlsurface.StatusResponse{State: o.StateString(), Threads: mapThreadStatuses(o.ThreadStatuses())}
			if err := o.FatalErrorOrNil(); err != nil {
				resp.FatalError = err.Error()
			}
			return resp
		},
		Pause:    func() error { return o.Pause(shutdownGrace) },
		Resume:   func() error { o.Resume(); return nil },
		Shutdown: func() error { o.Shutdown(); return nil },
		SaveState: func(ctx context.Context, _ string) (string, error) {
			if persister == nil {
				return "", fmt.Errorf("concord-demo: persistence disabled, pass -states-dir")
			}
			return persister.Save(ctx)
		},
	}
	adapter := controlsurface.NewAdapter(handlers, log)
	hub := telemetry.NewHub(func() telemetry.Snapshot {
		return buildSnapshot(o, training)
	}, 250*time.Millisecond, log)

	router := adapter.Router()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(ctx, w, r)
	})
	router.HandleFunc("/grid", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, training.MaxValuesString())
	})

	srv := &http.Server{Addr: addr, Handler: router}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "concord-demo: cannot bind %s: %v\n", addr, err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("concord-demo serving control surface and value-function view")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("web api server failed")
		}
	}()

	log.Info().Str("track", trackName(*debug)).Int("workers", *nworkers).Msg("concord-demo starting")
	if err := o.Start(ctx); err != nil {
		log.Error().Err(err).Msg("concord-demo exiting with a fatal error")
		os.Exit(1)
	}
}

func trackName(debug bool) string {
	if debug {
		return "debug"
	}
	return "full"
}

func mapThreadStatuses(in []orchestrator.ThreadStatus) []controlsurface.ThreadStatus {
	out := make([]controlsurface.ThreadStatus, len(in))
	for i, s := range in {
		out[i] = controlsurface.ThreadStatus{Name: s.Name, Ready: s.Ready}
	}
	return out
}

func buildSnapshot(o *orchestrator.Orchestrator, training *gridworld.GridModel) telemetry.Snapshot {
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
