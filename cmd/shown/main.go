package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"

	"github.com/Traegervector/shown"
	"github.com/Traegervector/shown/store"
)

// Config is the structure for the configuration file
type Config struct {
	//GraphConfig determines which API endpoint the client talks to
	GraphConfig GraphConfig `mapstructure:"graph_config"`

	//CacheConfig determines how responses are cached between runs
	CacheConfig CacheConfig `mapstructure:"cache_config"`
}

type GraphConfig struct {
	//Endpoint is the API root without a version segment
	Endpoint string `mapstructure:"endpoint"`

	//Version is the API version requests are issued against
	Version string `mapstructure:"version"`

	//Timeout is the per-request timeout of the underlying http client
	Timeout string `mapstructure:"timeout"`
}

type CacheConfig struct {
	//Enabled is the master cache switch
	Enabled bool `mapstructure:"enabled"`

	//Path is the sqlite database file the cache persists to.
	// The special value ":memory:" keeps the cache in process memory
	Path string `mapstructure:"path"`

	//DefaultInvalidationPeriod applies to categories without their own period
	DefaultInvalidationPeriod string `mapstructure:"default_invalidation_period"`

	//PresenceInvalidationPeriod overrides the presence category
	PresenceInvalidationPeriod string `mapstructure:"presence_invalidation_period"`
}

func (conf *CacheConfig) toRealCacheConfig() (*shown.CacheConfig, error) {
	cacheConfig := shown.NewCacheConfig()
	cacheConfig.Enabled = conf.Enabled

	if conf.DefaultInvalidationPeriod != "" {
		period, err := time.ParseDuration(conf.DefaultInvalidationPeriod)
		if err != nil {
			return nil, fmt.Errorf("unable to parse 'default_invalidation_period': %w", err)
		}
		cacheConfig.DefaultInvalidationPeriod = period
	}

	if conf.PresenceInvalidationPeriod != "" {
		period, err := time.ParseDuration(conf.PresenceInvalidationPeriod)
		if err != nil {
			return nil, fmt.Errorf("unable to parse 'presence_invalidation_period': %w", err)
		}
		cacheConfig.Presence.InvalidationPeriod = period
	}

	return cacheConfig, nil
}

func init() {
	viper.SetDefault("graph_config.endpoint", "https://graph.microsoft.com")
	viper.SetDefault("graph_config.version", "v1.0")
	viper.SetDefault("graph_config.timeout", "30s")

	viper.SetDefault("cache_config.enabled", true)
	viper.SetDefault("cache_config.path", "shown-cache.db")
	viper.SetDefault("cache_config.default_invalidation_period", "1h")
	viper.SetDefault("cache_config.presence_invalidation_period", "5m")
}

var config Config

var debug bool

func main() {
	resource, err := initConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while reading config: %s\n", err.Error())
		os.Exit(1)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while unmarshalling config: %s\n", err.Error())
		os.Exit(1)
	}

	if err := run(resource); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(resource string) error {
	timeout, err := time.ParseDuration(config.GraphConfig.Timeout)
	if err != nil {
		return fmt.Errorf("unable to parse 'graph_config.timeout': %w", err)
	}

	transport := &http.Transport{}
	if err := http2.ConfigureTransport(transport); err != nil {
		return fmt.Errorf("unable to configure http2 transport: %w", err)
	}

	logger := logrus.New()
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	client := &shown.HTTPClient{
		BaseURL:        config.GraphConfig.Endpoint,
		DefaultVersion: config.GraphConfig.Version,
		HTTP: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		Logger: logger,
	}

	provider, err := store.OpenSQLiteProvider(config.CacheConfig.Path)
	if err != nil {
		return err
	}
	defer provider.Close()

	cacheConfig, err := config.CacheConfig.toRealCacheConfig()
	if err != nil {
		return err
	}

	caches := shown.NewCaches(provider)
	caches.Config = cacheConfig
	caches.Logger = logger

	graph := shown.NewGraph(client, caches)
	graph.Logger = logger

	ctx := context.Background()

	iterator, err := graph.GetFilesIterator(ctx, resource, 25)
	if err != nil {
		return err
	}

	for _, item := range iterator.Value() {
		fmt.Printf("%s\t%d\t%s\n", item.ID, item.Size, item.Name)
	}

	for iterator.HasNext() {
		increment, err := iterator.Next(ctx)
		if err != nil {
			return err
		}
		for _, item := range increment {
			fmt.Printf("%s\t%d\t%s\n", item.ID, item.Size, item.Name)
		}
	}

	// Persist the fully drained listing so the next run replays it from
	// the cache.
	graph.CacheFileList(ctx, resource, 25, iterator)

	if debug {
		spew.Fdump(os.Stderr, iterator.Value())
	}

	return nil
}

func initConfig() (string, error) {
	flagSet := pflag.NewFlagSet("shown", pflag.ContinueOnError)

	flagSet.String("config", "config.yaml", "The path to the shown config file")
	flagSet.String("resource", "/me/drive/root/children", "The collection resource to list")
	flagSet.BoolVar(&debug, "debug", false, "Dump raw fetched values to stderr")

	//Make it so that when the -help, --help or -h flag is given the usage is printed and the program exits
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	err := flagSet.Parse(os.Args)
	if err != nil {
		return "", err
	}

	configPath, err := flagSet.GetString("config")
	if err != nil {
		return "", err
	}

	resource, err := flagSet.GetString("resource")
	if err != nil {
		return "", err
	}

	viper.SetConfigType("yaml")

	configBytes, err := os.ReadFile(configPath)
	if err == nil {
		if err := viper.ReadConfig(bytes.NewReader(configBytes)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return resource, nil
}
