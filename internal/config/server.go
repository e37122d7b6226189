package config

import (
	"fmt"
	"os"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/here"
)

// ServerConfig configures the geocluster daemon. Command-line flags take
// precedence over the file.
type ServerConfig struct {
	Listen     *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`

	// AssetHome is the base URL or directory for "@" icon references.
	AssetHome *string `json:"asset_home,omitempty" yaml:"asset_home,omitempty"`
	// AssetDir confines local icon files. Empty disables them.
	AssetDir *string `json:"asset_dir,omitempty" yaml:"asset_dir,omitempty"`

	Here *HereConfig `json:"here,omitempty" yaml:"here,omitempty"`
	GPS  *GPSConfig  `json:"gps,omitempty" yaml:"gps,omitempty"`

	// Cluster holds the default options of new sessions.
	Cluster *ClusterConfig `json:"cluster,omitempty" yaml:"cluster,omitempty"`
}

// HereConfig holds the location platform credentials.
type HereConfig struct {
	AppID   string `json:"app_id,omitempty" yaml:"app_id,omitempty"`
	AppCode string `json:"app_code,omitempty" yaml:"app_code,omitempty"`
	UseCIT  bool   `json:"use_cit,omitempty" yaml:"use_cit,omitempty"`
	UseHTTP bool   `json:"use_http,omitempty" yaml:"use_http,omitempty"`
}

// GPSConfig selects the serial GPS receiver.
type GPSConfig struct {
	Port string `json:"port" yaml:"port"`
	Baud int    `json:"baud,omitempty" yaml:"baud,omitempty"`
}

func ptrString(v string) *string { return &v }

// LoadServerConfig loads a ServerConfig from a JSON or YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *ServerConfig) Validate() error {
	if c.GPS != nil && c.GPS.Baud < 0 {
		return errtypes.Configf("gps.baud", "must not be negative, got %d", c.GPS.Baud)
	}
	if c.Cluster != nil {
		return c.Cluster.Validate()
	}
	return nil
}

// ApplyEnv fills missing credentials from APP_ID and APP_CODE.
func (c *ServerConfig) ApplyEnv() {
	id, code := os.Getenv("APP_ID"), os.Getenv("APP_CODE")
	if id == "" && code == "" {
		return
	}
	if c.Here == nil {
		c.Here = &HereConfig{}
	}
	if c.Here.AppID == "" {
		c.Here.AppID = id
	}
	if c.Here.AppCode == "" {
		c.Here.AppCode = code
	}
}

// GetListen returns the HTTP listen address or the default.
func (c *ServerConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC listen address; empty disables the server.
func (c *ServerConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// GetDBPath returns the point store path or the default.
func (c *ServerConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "geocluster.db"
	}
	return *c.DBPath
}

func (c *ServerConfig) GetAssetHome() string {
	if c.AssetHome == nil {
		return ""
	}
	return *c.AssetHome
}

func (c *ServerConfig) GetAssetDir() string {
	if c.AssetDir == nil {
		return ""
	}
	return *c.AssetDir
}

// GetClusterConfig returns the session defaults, never nil.
func (c *ServerConfig) GetClusterConfig() *ClusterConfig {
	if c.Cluster == nil {
		return EmptyClusterConfig()
	}
	return c.Cluster
}

// GetGPSBaud returns the receiver baud rate or 9600.
func (c *ServerConfig) GetGPSBaud() int {
	if c.GPS == nil || c.GPS.Baud == 0 {
		return 9600
	}
	return c.GPS.Baud
}

// GetGPSPort returns the receiver port; empty disables locate-me.
func (c *ServerConfig) GetGPSPort() string {
	if c.GPS == nil {
		return ""
	}
	return c.GPS.Port
}

// Credentials returns the location platform credentials.
func (c *ServerConfig) Credentials() here.Credentials {
	if c.Here == nil {
		return here.Credentials{}
	}
	return here.Credentials{
		AppID:   c.Here.AppID,
		AppCode: c.Here.AppCode,
		UseCIT:  c.Here.UseCIT,
		UseHTTP: c.Here.UseHTTP,
	}
}

// SetListen and the other setters apply command-line overrides.
func (c *ServerConfig) SetListen(v string)     { c.Listen = ptrString(v) }
func (c *ServerConfig) SetGRPCListen(v string) { c.GRPCListen = ptrString(v) }
func (c *ServerConfig) SetDBPath(v string)     { c.DBPath = ptrString(v) }
func (c *ServerConfig) SetAssetHome(v string)  { c.AssetHome = ptrString(v) }
func (c *ServerConfig) SetGPSPort(v string) {
	if c.GPS == nil {
		c.GPS = &GPSConfig{}
	}
	c.GPS.Port = v
}
