// rendezvous: signaling relay for midirtc peers.
//
// Each peer connects to ws://<addr>/<id>; messages are forwarded to the
// peer named in their "id" field.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/midirtc/internal/rendezvous"
	"github.com/1ureka/midirtc/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := pflag.StringP("listen", "l", ":8000", "listen address")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	if *debug {
		util.EnableDebug()
	}

	srv := rendezvous.NewServer()
	bound, err := srv.Start(*addr)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer srv.Close()

	pterm.Info.Printfln("rendezvous listening on %s", bound)

	<-ctx.Done()
	util.LogInfo("shutting down")
}
