package config

import "time"

const (
	// Filesystem paths
	DefaultConfigPath = "/etc/modstore/config.yml"
	DefaultDataDir    = "/var/lib/modstore"
	DefaultLogDir     = "/var/log/modstore"

	// Service defaults
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 8089

	// Installer backend
	DefaultSocketPath     = "/run/modstore/backend.sock"
	DefaultReconnectDelay = 2 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	// Retention windows for terminal downloads
	DefaultFailureRetention = 5 * time.Second
	DefaultCancelRetention  = 2 * time.Second

	// History
	DefaultHistoryPath  = DefaultDataDir + "/history.db"
	DefaultHistoryLimit = 50

	// Logging
	DefaultLogLevel   = "info"
	DefaultLogOutput  = "stdout"
	DefaultLogPath    = DefaultLogDir + "/modstore.log"
	DefaultLogMaxSize = 100 // MB
	DefaultLogBackups = 10
	DefaultLogMaxAge  = 7 // days
)
