package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/vaultguard/internal/flagx"
	"github.com/dmitrijs2005/vaultguard/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so they may be written as "5m" or integer nanoseconds.
// Zero values leave the corresponding Config field untouched.
type JsonConfig struct {
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc"`
	DatabaseDSN      string         `json:"database_dsn"`
	SecretKey        string         `json:"secret_key"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   *string        `json:"s3_base_endpoint"`
	BlobDir          string         `json:"blob_dir"`
	LogFile          string         `json:"log_file"`
	LogMaxSizeMB     int            `json:"log_max_size_mb"`
	LogMaxBackups    int            `json:"log_max_backups"`
	JobTimeout       timex.Duration `json:"job_timeout"`
	ScanInterval     timex.Duration `json:"scan_interval"`
	AlertWindowDays  int            `json:"alert_window_days"`
	StaleJobAge      timex.Duration `json:"stale_job_age"`
}

// parseJson overlays Config with values from the file named by -c/-config.
// Without the flag nothing is loaded. Read or decode errors panic.
//
// s3_base_endpoint is a pointer so a file can set it to "" explicitly and
// switch the engine to the filesystem blob store.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	if c.S3BaseEndpoint != nil {
		config.S3BaseEndpoint = *c.S3BaseEndpoint
	}
	setString(&config.BlobDir, c.BlobDir)
	setString(&config.LogFile, c.LogFile)

	if c.LogMaxSizeMB > 0 {
		config.LogMaxSizeMB = c.LogMaxSizeMB
	}
	if c.LogMaxBackups > 0 {
		config.LogMaxBackups = c.LogMaxBackups
	}
	if c.JobTimeout.Duration > 0 {
		config.JobTimeout = c.JobTimeout.Duration
	}
	if c.ScanInterval.Duration > 0 {
		config.ScanInterval = c.ScanInterval.Duration
	}
	if c.AlertWindowDays > 0 {
		config.AlertWindowDays = c.AlertWindowDays
	}
	if c.StaleJobAge.Duration > 0 {
		config.StaleJobAge = c.StaleJobAge.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
