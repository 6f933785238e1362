package main

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/modoterra/droidwatch/pkg/config"
)

// socketEnvVar overrides the default daemon socket path.
const socketEnvVar = "DROIDWATCH_SOCKET"

// daemonConnection holds the flags shared by every command that talks to
// droidwatchd.
type daemonConnection struct {
	SocketPath string
}

// AddFlags registers --socket on flagSet. The default comes from
// DROIDWATCH_SOCKET when set.
func (c *daemonConnection) AddFlags(flagSet *pflag.FlagSet) {
	def := config.DefaultSocket
	if env := os.Getenv(socketEnvVar); env != "" {
		def = env
	}
	flagSet.StringVar(&c.SocketPath, "socket", def, "daemon socket path (env "+socketEnvVar+")")
}
