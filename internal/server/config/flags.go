package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/paywall/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   session signing secret
//	-b string   public base URL
//	-t int      session lifetime, hours
//	-m int      one-time code lifetime, minutes
//	-r string   Redis address for verify-attempt limiting
//	-l string   log format ("json" or "console")
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-b", "-t", "-m", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session signing secret")
	fs.StringVar(&config.BaseURL, "b", config.BaseURL, "public base URL")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Hours()), "session lifetime (in hours)")
	codeTTL := fs.Int("m", int(config.CodeTTL.Minutes()), "verification code lifetime (in minutes)")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Hour
	config.CodeTTL = time.Duration(*codeTTL) * time.Minute
}
