// shaperd manages per-device transmit shaping: a daemon owning the
// shaper cache and driver backends, and a client CLI speaking to it
// over a unix socket.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/frobware/go-shaperman/cmd/shaperd/cli"
)

func main() {
	var root cli.CLI
	kctx := kong.Parse(&root, cli.KongOptions()...)
	kctx.FatalIfErrorf(kctx.Run(&root))
}
