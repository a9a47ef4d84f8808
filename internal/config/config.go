package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Constants for default values
const (
	DefaultPort           = 2121
	DefaultChunkSize      = 64 * 1024 // 64KB
	DefaultBufferSize     = 128 * 1024
	DefaultMaxConnections = 64
	DefaultListenAddr     = "0.0.0.0:2121"
	DefaultServerAddr     = "127.0.0.1:2121"
	DefaultStorageDir     = "storage"
	DefaultMetadataPath   = "server_metadata.db"
	DefaultDownloadDir    = "downloads"
	DefaultResumeFile     = "resume.json"
	DefaultLogDir         = "logs"
	DefaultDiscoverWait   = 3 * time.Second

	// Network constants
	TCPBufferSize   = 1024 * 1024 // 1MB
	KeepAlivePeriod = 30 * time.Second

	// File system constants
	HashBufferSize = 4 * 1024 * 1024 // 4MB
	DirPerms       = 0755
	FilePerms      = 0644
)

// Config holds all configuration parameters for the application
type Config struct {
	// Server mode settings
	IsServer       bool
	ListenAddress  string
	StorageDir     string
	MetadataPath   string
	MaxConnections int
	Advertise      bool

	// Client mode settings
	ServerAddress string
	DownloadDir   string
	ResumeFile    string
	User          string
	Discover      bool
	DiscoverWait  time.Duration

	// Common parameters
	ChunkSize    int
	BufferSize   int
	IdleTimeout  time.Duration
	ShowProgress bool
	LogDir       string
	Verbose      bool
}

// Default returns a Config populated with the default values
func Default() *Config {
	return &Config{
		ListenAddress:  DefaultListenAddr,
		StorageDir:     DefaultStorageDir,
		MetadataPath:   DefaultMetadataPath,
		MaxConnections: DefaultMaxConnections,
		ServerAddress:  DefaultServerAddr,
		DownloadDir:    DefaultDownloadDir,
		ResumeFile:     DefaultResumeFile,
		DiscoverWait:   DefaultDiscoverWait,
		ChunkSize:      DefaultChunkSize,
		BufferSize:     DefaultBufferSize,
		ShowProgress:   true,
		LogDir:         DefaultLogDir,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout cannot be negative")
	}

	if c.IsServer {
		if c.MaxConnections <= 0 {
			return fmt.Errorf("max connections must be positive")
		}
		if c.StorageDir == "" {
			return fmt.Errorf("storage directory is required in server mode")
		}
		if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
		}
		return nil
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory is required in client mode")
	}
	if c.ResumeFile == "" {
		return fmt.Errorf("resume file is required in client mode")
	}
	if !c.Discover {
		if _, _, err := net.SplitHostPort(c.ServerAddress); err != nil {
			return fmt.Errorf("invalid server address %q: %w", c.ServerAddress, err)
		}
	}

	return nil
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	if c.IsServer {
		return fmt.Sprintf("Config{Mode: Server, Listen: %s, Storage: %s, ChunkSize: %d, MaxConnections: %d}",
			c.ListenAddress, c.StorageDir, c.ChunkSize, c.MaxConnections)
	}

	return fmt.Sprintf("Config{Mode: Client, Server: %s, Downloads: %s, ChunkSize: %d, Discover: %v}",
		c.ServerAddress, c.DownloadDir, c.ChunkSize, c.Discover)
}

// fileConfig mirrors the JSON configuration file. Pointer fields distinguish
// "absent" from zero values.
type fileConfig struct {
	ServerPort     *int    `json:"serverPort"`
	StoragePath    *string `json:"storagePath"`
	MetadataPath   *string `json:"metadataPath"`
	MaxConnections *int    `json:"maxConnections"`
	ServerIP       *string `json:"server_ip"`
	ClientPort     *int    `json:"server_port"`
	DownloadDir    *string `json:"downloadDir"`
	ResumeFile     *string `json:"resumeFile"`
}

// ApplyFile overlays values from a JSON configuration file onto c. A value is
// skipped when explicit(flagName) reports that the flag was set on the command line.
func (c *Config) ApplyFile(path string, explicit func(flagName string) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	if fc.ServerPort != nil && !explicit("listen") {
		host, _, err := net.SplitHostPort(c.ListenAddress)
		if err != nil {
			host = "0.0.0.0"
		}
		c.ListenAddress = net.JoinHostPort(host, strconv.Itoa(*fc.ServerPort))
	}
	if fc.StoragePath != nil && !explicit("storage") {
		c.StorageDir = *fc.StoragePath
	}
	if fc.MetadataPath != nil && !explicit("metadata") {
		c.MetadataPath = *fc.MetadataPath
	}
	if fc.MaxConnections != nil && !explicit("max-connections") {
		c.MaxConnections = *fc.MaxConnections
	}
	if (fc.ServerIP != nil || fc.ClientPort != nil) && !explicit("server") {
		host, port, err := net.SplitHostPort(c.ServerAddress)
		if err != nil {
			host, port = "127.0.0.1", strconv.Itoa(DefaultPort)
		}
		if fc.ServerIP != nil {
			host = *fc.ServerIP
		}
		if fc.ClientPort != nil {
			port = strconv.Itoa(*fc.ClientPort)
		}
		c.ServerAddress = net.JoinHostPort(host, port)
	}
	if fc.DownloadDir != nil && !explicit("downloads") {
		c.DownloadDir = *fc.DownloadDir
	}
	if fc.ResumeFile != nil && !explicit("resume-file") {
		c.ResumeFile = *fc.ResumeFile
	}

	return nil
}
