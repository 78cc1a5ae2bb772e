package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/askbot/internal/adapters/llm"
	"github.com/okian/askbot/pkg/logger"
)

var fastRetry = llm.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestGenerate(t *testing.T) {
	Convey("Given an Ollama-compatible server", t, func() {
		var (
			calls atomic.Int32
			got   map[string]any
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"hi there"},"done":true}`))
		}))
		defer srv.Close()

		c := llm.NewClient(srv.URL, llm.WithModel("m"), llm.WithLogger(logger.Nop()), llm.WithRetry(fastRetry))
		reply, err := c.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hello"}})

		Convey("Then the reply is the message content, verbatim", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "hi there")
		})

		Convey("Then the request is a non-streaming chat call", func() {
			So(got["model"], ShouldEqual, "m")
			So(got["stream"], ShouldEqual, false)
			msgs, ok := got["messages"].([]any)
			So(ok, ShouldBeTrue)
			So(msgs, ShouldHaveLength, 1)
			So(calls.Load(), ShouldEqual, 1)
		})
	})

	Convey("Given a server that fails transiently", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"finally"}}`))
		}))
		defer srv.Close()

		c := llm.NewClient(srv.URL, llm.WithLogger(logger.Nop()), llm.WithRetry(fastRetry))
		reply, err := c.Generate(context.Background(), []llm.Message{{Role: "user", Content: "x"}})

		Convey("Then it retries until success", func() {
			So(err, ShouldBeNil)
			So(reply, ShouldEqual, "finally")
			So(calls.Load(), ShouldEqual, 3)
		})
	})

	Convey("Given failing or odd responses", t, func() {
		cases := map[string]http.HandlerFunc{
			"server error": func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			"bad request": func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
			"no message": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"error":"oops"}`))
			},
			"not json": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		}

		Convey("Then every one is reported as ErrUnavailable", func() {
			for _, h := range cases {
				srv := httptest.NewServer(h)
				c := llm.NewClient(srv.URL, llm.WithLogger(logger.Nop()), llm.WithRetry(fastRetry))
				_, err := c.Generate(context.Background(), []llm.Message{{Role: "user", Content: "x"}})
				srv.Close()
				So(errors.Is(err, llm.ErrUnavailable), ShouldBeTrue)
			}
		})
	})

	Convey("Given a server slower than the timeout", t, func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := llm.NewClient(srv.URL,
			llm.WithLogger(logger.Nop()),
			llm.WithRetry(llm.RetryConfig{}),
			llm.WithTimeout(50*time.Millisecond),
		)
		started := time.Now()
		_, err := c.Generate(context.Background(), []llm.Message{{Role: "user", Content: "x"}})

		Convey("Then the call gives up on time", func() {
			So(errors.Is(err, llm.ErrUnavailable), ShouldBeTrue)
			So(time.Since(started), ShouldBeLessThan, time.Second)
		})
	})
}
