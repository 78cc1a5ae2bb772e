package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okian/askbot/internal/asker"
	"github.com/okian/askbot/pkg/logger"
)

// Default configuration constants.
const (
	defaultRelayURL = "wss://relay.primal.net"
	defaultKeyword  = "askyeghro"
	defaultTimeout  = 3 * time.Minute
)

func main() {
	var (
		relayURL = flag.String("relay", defaultRelayURL, "Relay URL")
		bot      = flag.String("bot", os.Getenv("PUBLIC_KEY"), "Bot public key, hex or npub")
		keyword  = flag.String("keyword", defaultKeyword, "Trigger hashtag for public questions")
		private  = flag.Bool("dm", false, "Ask by encrypted direct message")
		timeout  = flag.Duration("timeout", defaultTimeout, "How long to wait for the answer")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || flag.NArg() == 0 {
		asker.ShowHelp()
		return
	}

	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	} else {
		_ = logger.SetLevelString("warn")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &asker.Config{
		RelayURL: *relayURL,
		Bot:      *bot,
		Question: strings.Join(flag.Args(), " "),
		Keyword:  *keyword,
		Private:  *private,
		Timeout:  *timeout,
	}

	answer, err := asker.Run(ctx, cfg, logger.Get().Named("ask"))
	if err != nil {
		os.Stderr.WriteString("ask failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
	os.Stdout.WriteString(answer + "\n")
}
