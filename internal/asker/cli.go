package asker

import "os"

// ShowHelp prints usage information for the ask tool.
func ShowHelp() {
	os.Stdout.WriteString(`askbot question tool
====================

Sends one question to a running bot through a relay and prints the answer.
A fresh throwaway identity is generated for every run.

Usage:
  go run ./cmd/ask [options] <question>

Options:
  -relay string
        Relay URL (default "wss://relay.primal.net")
  -bot string
        Bot public key, hex or npub (default $PUBLIC_KEY)
  -keyword string
        Trigger hashtag for public questions (default "askyeghro")
  -dm
        Ask by encrypted direct message instead of a public note
  -timeout duration
        How long to wait for the answer (default 3m)
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Public question
  go run ./cmd/ask -bot npub1... "what is a relay?"

  # Private lookup
  go run ./cmd/ask -dm -bot npub1... '/GetNotes "npub1..." "2024-01-01"'
`)
}
