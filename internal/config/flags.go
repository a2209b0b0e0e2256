package config

import (
	"flag"
	"os"
	"time"

	"github.com/bjpl/offlinekit/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory for the local store (default from Config)
//	-r string   base URL of the remote authority
//	-l string   bind address for the local gateway
//	-i int      online check interval in seconds
//	-s string   conflict resolution strategy
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-l", "-i", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory for the local store")
	fs.StringVar(&cfg.RemoteBaseURL, "r", cfg.RemoteBaseURL, "base URL of the remote authority")
	fs.StringVar(&cfg.ListenAddr, "l", cfg.ListenAddr, "address and port of the local gateway")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.ConflictStrategy, "s", cfg.ConflictStrategy, "conflict resolution strategy")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
