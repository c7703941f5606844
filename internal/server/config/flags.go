package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (empty selects the filesystem store)
//	-f string   filesystem blob directory
//	-l string   log file path
//	-j int      job timeout, minutes
//	-i int      expiration scan interval, minutes
//	-w int      alert window, days
//	-x int      stale job age, minutes
//
// Duration flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-u", "-p", "-b", "-g", "-e", "-f", "-l", "-j", "-i", "-w", "-x",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.BlobDir, "f", config.BlobDir, "filesystem blob directory")
	fs.StringVar(&config.LogFile, "l", config.LogFile, "log file")

	jobTimeout := fs.Int("j", int(config.JobTimeout.Minutes()), "job timeout (in minutes)")
	scanInterval := fs.Int("i", int(config.ScanInterval.Minutes()), "expiration scan interval (in minutes)")
	fs.IntVar(&config.AlertWindowDays, "w", config.AlertWindowDays, "alert window (in days)")
	staleJobAge := fs.Int("x", int(config.StaleJobAge.Minutes()), "stale job age (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.JobTimeout = time.Duration(*jobTimeout) * time.Minute
	config.ScanInterval = time.Duration(*scanInterval) * time.Minute
	config.StaleJobAge = time.Duration(*staleJobAge) * time.Minute
}
