// midirtc: CLI entry point.
//
// Registers with a rendezvous server under a short peer id, negotiates a
// WebRTC data channel with a partner, and streams MIDI note events over it.
// Notes are typed on stdin as "<note> [velocity]"; only note-ons are sent.
// Notes received from the partner are logged as MIDI messages.
//
// Flags (see --help) may also be given in a YAML file with --config.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/midirtc/internal/app"
	"github.com/1ureka/midirtc/internal/config"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Parse("midirtc", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("midirtc v%s", version))
	pterm.Println()

	node, err := app.Start(ctx, app.Options{
		Config: cfg,
		Sink:   notes.SinkFunc(logNote),
	})
	if err != nil {
		util.LogError("failed to start: %v", err)
		os.Exit(1)
	}
	defer node.Close()

	pterm.DefaultBox.WithTitle("Your ID").Println(node.LocalID())
	pterm.Println()

	partner := cfg.PartnerID
	if partner == "" {
		partner = askPartner(node.LocalID())
	}
	if partner != "" {
		if err := node.Connect(partner); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	} else {
		util.LogInfo("waiting for a partner to connect to %s", node.LocalID())
	}

	if cfg.ReceiveOnly {
		util.LogInfo("receive-only: stdin is ignored")
		<-node.Done()
		return
	}

	src := notes.NewChanSource(16)
	go readNotes(src)
	node.Pipe(src)

	// stdin may end before the user does.
	<-node.Done()
	util.LogInfo("shutting down")
}

// logNote prints an inbound note as a channel 0 MIDI message.
func logNote(ev notes.Event) {
	util.LogInfo("received %s", ev.Message(0))
}

// readNotes feeds stdin lines to src until EOF.
func readNotes(src *notes.ChanSource) {
	defer src.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := notes.ParseLine(line)
		if err != nil {
			util.LogWarning("%v", err)
			continue
		}
		ev, ok := notes.FromMessage(msg)
		if !ok {
			util.LogDebug("%s not sent: only note-on events are streamed", msg)
			continue
		}
		if !src.Push(ev) {
			util.LogDebug("note %d dropped: sender busy", ev.Note)
		}
	}
}

// askPartner prompts for the partner id until a usable one (or nothing) is
// entered.
func askPartner(self string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Partner ID (empty to wait for an incoming call)").
			Show()
		pterm.Println()

		id := strings.TrimSpace(raw)
		switch {
		case id == "":
			return ""
		case id == self:
			util.LogWarning("that is your own id")
		case !util.ValidPeerID(id):
			util.LogWarning("invalid id: must be %d letters or digits", util.PeerIDLength)
		default:
			return id
		}
	}
}
