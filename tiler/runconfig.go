package tiler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/starfield-io/skytile"
	"github.com/starfield-io/skytile/storage"
)

// storeParams is one [store.<alias>] section: an "engine" name plus
// whatever settings that engine accepts.
type storeParams map[string]interface{}

// RunConfig is a build run's TOML configuration:
//
//	[logging]
//	logfile = "build.log"
//	max_log_size = 500  # MB
//	max_log_age = 30    # days
//
//	[kafka]
//	servers = ["kafka1:9092"]
//
//	[store.local]
//	engine = "tilefile"
//	path = "tiles"
//	format = "f32"
//
//	[store.public]
//	engine = "blobstore"
//	ref = "gs://survey-tiles/dss"
//	format = "png"
//
// Relative paths are taken relative to the TOML file's own directory.
type RunConfig struct {
	Logging skytile.LogConfig
	Kafka   skytile.KafkaConfig
	Store   map[storage.Alias]storeParams
}

// LoadRunConfig reads a run configuration, starts logging per its
// [logging] section, and initializes the kafka producer per [kafka].
// Stores are opened separately through OpenStore since a config may
// describe several.
func LoadRunConfig(filename string) (*RunConfig, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML run configuration file provided")
	}
	var rc RunConfig
	if _, err := toml.DecodeFile(filename, &rc); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := rc.convertPathsToAbsolute(filename); err != nil {
		return nil, err
	}

	rc.Logging.SetLogger()

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if err := rc.Kafka.Initialize(host); err != nil {
		return nil, fmt.Errorf("could not initialize kafka from run configuration: %v", err)
	}
	return &rc, nil
}

// Some settings in the TOML can be given as relative paths.  This
// converts them in-place to absolute ones, taking the given paths as
// relative to the TOML file's own directory.
func (rc *RunConfig) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if rc.Logging.Logfile != "" {
		rc.Logging.Logfile = convertToAbsolute(rc.Logging.Logfile, configDir)
	}

	// [store.foobar].path
	for alias, sp := range rc.Store {
		p, ok := sp["path"]
		if !ok {
			continue
		}
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("don't understand path setting for store %q", alias)
		}
		sp["path"] = convertToAbsolute(path, configDir)
	}
	return nil
}

func convertToAbsolute(path, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// OpenStore opens the store a [store.<alias>] section describes.  The
// bool is true if the store was newly created.
func (rc *RunConfig) OpenStore(alias storage.Alias) (storage.TileStore, bool, error) {
	sp, found := rc.Store[alias]
	if !found {
		return nil, false, fmt.Errorf("no store %q in run configuration", alias)
	}
	e, ok := sp["engine"]
	if !ok {
		return nil, false, fmt.Errorf("store %q must have %q setting", alias, "engine")
	}
	engine, ok := e.(string)
	if !ok {
		return nil, false, fmt.Errorf("store %q engine setting must be a string (%v)", alias, e)
	}
	sc := skytile.StoreConfig{Config: skytile.NewConfig(), Engine: engine}
	for k, v := range sp {
		if k == "engine" {
			continue
		}
		sc.Set(k, v)
	}
	return storage.NewStore(sc)
}

// Shutdown flushes the producers and logs a run started through
// LoadRunConfig.
func (rc *RunConfig) Shutdown() {
	skytile.KafkaShutdown()
}
