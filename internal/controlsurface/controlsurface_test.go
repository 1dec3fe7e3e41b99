package controlsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"concord/internal/obslog"
)

func testHandlers() Handlers {
	return Handlers{
		Status: func() StatusResponse {
			return StatusResponse{State: "RUNNING", Threads: []ThreadStatus{{Name: "a", Ready: true}}}
		},
		Pause:  func() error { return nil },
		Resume: func() error { return nil },
		Shutdown: func() error {
			return nil
		},
		SaveState: func(ctx context.Context, path string) (string, error) {
			if path == "fail" {
				return "", errors.New("save failed")
			}
			return "/states/20260101T000000Z", nil
		},
	}
}

func TestDispatch(t *testing.T) {
	Convey("Given an Adapter with stub handlers", t, func() {
		a := NewAdapter(testHandlers(), obslog.New(io.Discard, "error"))

		Convey("status returns the wrapped snapshot", func() {
			resp := a.Dispatch(context.Background(), "status", "")
			So(resp.OK, ShouldBeTrue)
			So(resp.Status.State, ShouldEqual, "RUNNING")
			So(resp.RequestID, ShouldNotBeEmpty)
		})

		Convey("pause/resume/shutdown succeed", func() {
			So(a.Dispatch(context.Background(), "pause", "").OK, ShouldBeTrue)
			So(a.Dispatch(context.Background(), "resume", "").OK, ShouldBeTrue)
			So(a.Dispatch(context.Background(), "shutdown", "").OK, ShouldBeTrue)
		})

		Convey("save_state reports the record path on success", func() {
			resp := a.Dispatch(context.Background(), "save_state", "")
			So(resp.OK, ShouldBeTrue)
			So(resp.Record, ShouldEqual, "/states/20260101T000000Z")
		})

		Convey("save_state surfaces an error without a record", func() {
			resp := a.Dispatch(context.Background(), "save_state", "fail")
			So(resp.OK, ShouldBeFalse)
			So(resp.Error, ShouldNotBeEmpty)
		})

		Convey("an unrecognized command reports an error", func() {
			resp := a.Dispatch(context.Background(), "frobnicate", "")
			So(resp.OK, ShouldBeFalse)
		})
	})
}

func TestHTTPRouter(t *testing.T) {
	Convey("Given an Adapter's HTTP router", t, func() {
		a := NewAdapter(testHandlers(), obslog.New(io.Discard, "error"))
		srv := httptest.NewServer(a.Router())
		defer srv.Close()

		Convey("GET /status returns 200 with the status payload", func() {
			resp, err := http.Get(srv.URL + "/status")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			var decoded Response
			So(json.NewDecoder(resp.Body).Decode(&decoded), ShouldBeNil)
			So(decoded.Status.State, ShouldEqual, "RUNNING")
		})

		Convey("POST /pause returns 200", func() {
			resp, err := http.Post(srv.URL+"/pause", "", nil)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})

		Convey("GET /pause (wrong method) is rejected by the router", func() {
			resp, err := http.Get(srv.URL + "/pause")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestLineProtocol(t *testing.T) {
	Convey("Given an Adapter serving the line protocol over a local listener", t, func() {
		a := NewAdapter(testHandlers(), obslog.New(io.Discard, "error"))
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		go a.ServeLines(ctx, ln)
		defer cancel()

		Convey("a status line gets a single JSON response line", func() {
			conn, err := net.Dial("tcp", ln.Addr().String())
			So(err, ShouldBeNil)
			defer conn.Close()

			_, err = conn.Write([]byte("status\n"))
			So(err, ShouldBeNil)

			conn.SetReadDeadline(time.Now().Add(time.Second))
			reader := bufio.NewReader(conn)
			line, err := reader.ReadString('\n')
			So(err, ShouldBeNil)

			var resp Response
			So(json.Unmarshal([]byte(line), &resp), ShouldBeNil)
			So(resp.OK, ShouldBeTrue)
			So(resp.Status.State, ShouldEqual, "RUNNING")
		})

		Convey("save_state with an argument passes it through", func() {
			conn, err := net.Dial("tcp", ln.Addr().String())
			So(err, ShouldBeNil)
			defer conn.Close()

			_, err = conn.Write([]byte("save_state fail\n"))
			So(err, ShouldBeNil)

			conn.SetReadDeadline(time.Now().Add(time.Second))
			reader := bufio.NewReader(conn)
			line, err := reader.ReadString('\n')
			So(err, ShouldBeNil)

			var resp Response
			So(json.Unmarshal([]byte(line), &resp), ShouldBeNil)
			So(resp.OK, ShouldBeFalse)
		})
	})
}
