// Package controlsurface implements the control surface adapter of
// spec.md §4.J: it accepts status/pause/resume/shutdown/save_state
// commands from an HTTP API (gorilla/mux, matching the teacher's
// server.Serve()) or a textual line protocol, and forwards them to a
// shared Dispatch core.
package controlsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Handlers wires the control surface to the orchestrator and persistence
// controller without importing either package directly, avoiding an
// import cycle (both of those packages sit above this one).
type Handlers struct {
	Status    func() StatusResponse
	Pause     func() error
	Resume    func() error
	Shutdown  func() error
	SaveState func(ctx context.Context, path string) (string, error)
}

// StatusResponse is the payload returned by the status command.
type StatusResponse struct {
	State      string         `json:"state"`
	Threads    []ThreadStatus `json:"threads"`
	FatalError string         `json:"fatal_error,omitempty"`
}

// ThreadStatus mirrors orchestrator.ThreadStatus for the wire format,
// decoupled so this package need not import orchestrator.
type ThreadStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// Response is the single-line JSON response to every control command,
// per spec.md §6.
type Response struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Status    *StatusResponse `json:"status,omitempty"`
	Record    string          `json:"record,omitempty"`
}

// Adapter dispatches control commands against Handlers, validating them
// against the current lifecycle state is the orchestrator's job (it
// returns an error for an invalid transition, surfaced here as Error).
type Adapter struct {
	handlers Handlers
	log      zerolog.Logger
}

// NewAdapter returns an Adapter wired to the given Handlers.
func NewAdapter(handlers Handlers, log zerolog.Logger) *Adapter {
	return &Adapter{handlers: handlers, log: log}
}

// Dispatch executes one command (and its optional single argument, e.g.
// a save_state path) and returns the Response to send back, tagging it
// with a fresh correlation id for the adapter's own logs.
func (a *Adapter) Dispatch(ctx context.Context, command, arg string) Response {
	reqID := uuid.NewString()
	log := a.log.With().Str("request_id", reqID).Str("command", command).Logger()
	log.Debug().Msg("dispatching control command")

	resp := Response{RequestID: reqID, Command: command}
	switch command {
	case "status":
		s := a.handlers.Status()
		resp.Status = &s
		resp.OK = true
	case "pause":
		if err := a.handlers.Pause(); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
		}
	case "resume":
		if err := a.handlers.Resume(); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
		}
	case "shutdown":
		if err := a.handlers.Shutdown(); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
		}
	case "save_state":
		record, err := a.handlers.SaveState(ctx, arg)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Record = record
		}
	default:
		resp.Error = fmt.Sprintf("unrecognized command %q", command)
	}

	if !resp.OK {
		log.Warn().Str("error", resp.Error).Msg("control command failed")
	}
	return resp
}

// Router returns a gorilla/mux router exposing the control commands as
// HTTP endpoints, matching spec.md §6's verb set.
func (a *Adapter) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", a.httpHandler("status")).Methods(http.MethodGet)
	r.HandleFunc("/pause", a.httpHandler("pause")).Methods(http.MethodPost)
	r.HandleFunc("/resume", a.httpHandler("resume")).Methods(http.MethodPost)
	r.HandleFunc("/shutdown", a.httpHandler("shutdown")).Methods(http.MethodPost)
	r.HandleFunc("/save_state", a.httpHandler("save_state")).Methods(http.MethodPost)
	return r
}

func (a *Adapter) httpHandler(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arg := r.URL.Query().Get("path")
		resp := a.Dispatch(r.Context(), command, arg)
		w.Header().Set("Content-Type", "application/json")
		if !resp.OK {
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// ServeHTTP starts the HTTP control surface and blocks until ctx is
// cancelled, mirroring the teacher's Server.Serve shape but routed
// through gorilla/mux and bound to a context instead of the package-level
// http.DefaultServeMux.
func (a *Adapter) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// ServeLines accepts connections on ln and processes the textual line
// protocol of spec.md §6: one command per line ("status", "pause",
// "resume", "shutdown", "save_state [path]"), one JSON response line per
// command. It blocks until ctx is cancelled.
func (a *Adapter) ServeLines(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controlsurface: accept: %w", err)
		}
		go a.serveLineConn(ctx, conn)
	}
}

func (a *Adapter) serveLineConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		command := fields[0]
		arg := ""
		if len(fields) == 2 {
			arg = strings.TrimSpace(fields[1])
		}

		resp := a.Dispatch(ctx, command, arg)
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}
