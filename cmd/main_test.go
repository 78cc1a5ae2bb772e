package main

import (
	"context"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/askbot/internal/config"
	"github.com/okian/askbot/internal/domain/identity"
	"github.com/okian/askbot/internal/testrelay"
	"github.com/okian/askbot/pkg/logger"
)

func testConfig(t *testing.T, relayURL string) *config.Config {
	t.Helper()
	keys, err := identity.GenerateKeys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	cfg := config.New(context.Background())
	cfg.LogFormat = ""
	cfg.Addr = "127.0.0.1:0"
	cfg.RelayURL = relayURL
	cfg.PublicKey = keys.PublicKey()
	cfg.PrivateKey = hex.EncodeToString(keys.Private().Serialize())
	cfg.ReconnectBaseMS = 10
	cfg.ReconnectCapMS = 50
	return cfg
}

func TestRun(t *testing.T) {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		t.Fatalf("logger: %v", err)
	}

	convey.Convey("Given a reachable relay", t, func() {
		r := testrelay.New()
		defer r.Close()
		cfg := testConfig(t, r.URL())

		convey.Convey("When run is started and later cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- run(ctx, cfg) }()

			deadline := time.Now().Add(2 * time.Second)
			for r.Connections() == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()

			convey.Convey("Then the bot connected and run returned cleanly", func() {
				convey.So(r.Connections(), convey.ShouldBeGreaterThan, 0)
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the HTTP address cannot be bound", func() {
			cfg.Addr = "127.0.0.1:99999"
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			convey.Convey("Then run reports the server failure", func() {
				err := run(ctx, cfg)
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "HTTP server failed")
			})
		})
	})

	convey.Convey("Given a config with an unknown log format", t, func() {
		cfg := testConfig(t, "ws://127.0.0.1:1")
		cfg.LogFormat = "xml"

		convey.Convey("Then run refuses to start", func() {
			convey.So(run(context.Background(), cfg), convey.ShouldNotBeNil)
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loop exits when its context ends", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				close(done)
			}()
			cancel()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("updater did not stop")
			}
		})
	})
}

func TestConfigLoad(t *testing.T) {
	keys, err := identity.GenerateKeys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}

	convey.Convey("Given environment configuration", t, func() {
		t.Setenv("ASKBOT_ADDR", ":8080")
		t.Setenv("ASKBOT_QUEUE_SIZE", "1000")
		t.Setenv("ASKBOT_WORKER_COUNT", "8")
		t.Setenv("PUBLIC_KEY", keys.PublicKey())
		t.Setenv("PRIVATE_KEY", hex.EncodeToString(keys.Private().Serialize()))

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
			convey.So(cfg.PublicKey, convey.ShouldEqual, keys.PublicKey())
		})
	})
}
