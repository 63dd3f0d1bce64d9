package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/cashmate/cashmate/internal/daemon"
	"github.com/cashmate/cashmate/internal/home"
)

func main() {
	homeFlag := flag.String("home", "", "data directory (overrides CASHMATE_HOME and ~/.cashmate)")
	listenFlag := flag.String("listen", "", "listen address (overrides config listen_addr)")
	flag.Parse()

	dir := home.Resolve(*homeFlag)

	app := fx.New(
		daemon.Module(daemon.Params{Home: dir, ListenAddr: *listenFlag}),
	)

	app.Run()
}
