package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/okian/askbot/internal/adapters/lookup"
	"github.com/okian/askbot/internal/domain/identity"
)

// Commands understood in message text.
const (
	CommandNotes   = "getnotes"
	CommandImages  = "getimages"
	CommandFollows = "checkfollowlist"
)

var (
	commandPattern = regexp.MustCompile(`(?i)/(getnotes|getimages|checkfollowlist)\b((?:\s*["“”][^"“”]*["“”])*)`)
	argPattern     = regexp.MustCompile(`["“”]([^"“”]*)["“”]`)
)

var errUsage = errors.New("usage")

// command is a parsed slash command.
type command struct {
	name   string
	raw    string // identifier as typed
	pubkey string
	span   lookup.Range
}

func usage(name string) string {
	switch name {
	case CommandFollows:
		return `Usage: /checkfollowlist "<npub or hex public key>"`
	case CommandImages:
		return `Usage: /GetImages "<npub or hex public key>" ["YYYY-MM-DD" from] ["YYYY-MM-DD" to]`
	default:
		return `Usage: /GetNotes "<npub or hex public key>" ["YYYY-MM-DD" from] ["YYYY-MM-DD" to]`
	}
}

// parseCommand finds a command in text. found is false when there is none.
// A recognised command with bad arguments returns errUsage or an
// identity.ErrInvalidIdentifier wrapper.
func parseCommand(text string) (cmd command, found bool, err error) {
	m := commandPattern.FindStringSubmatch(text)
	if m == nil {
		return command{}, false, nil
	}
	cmd.name = strings.ToLower(m[1])

	var args []string
	for _, a := range argPattern.FindAllStringSubmatch(m[2], -1) {
		args = append(args, strings.TrimSpace(a[1]))
	}

	limit := 3
	if cmd.name == CommandFollows {
		limit = 1
	}
	if len(args) == 0 || len(args) > limit || args[0] == "" {
		return cmd, true, errUsage
	}

	cmd.raw = args[0]
	if cmd.pubkey, err = identity.DecodePublicKey(args[0]); err != nil {
		return cmd, true, err
	}

	if len(args) > 1 {
		t, err := parseDate(args[1])
		if err != nil {
			return cmd, true, err
		}
		cmd.span.Since = &t
	}
	if len(args) > 2 {
		t, err := parseDate(args[2])
		if err != nil {
			return cmd, true, err
		}
		cmd.span.Until = &t
	}
	if cmd.span.Since != nil && cmd.span.Until != nil && cmd.span.Until.Before(*cmd.span.Since) {
		return cmd, true, fmt.Errorf("%w: range ends before it starts", errUsage)
	}
	return cmd, true, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q", errUsage, s)
}
