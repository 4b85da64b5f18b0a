package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	cachefront "github.com/cachefront/cachefront"
	"github.com/cachefront/cachefront/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	configFilenameFlag string
	listenFlag         string
	targetFlag         string
	providerFlag       string
	dbFileFlag         string
	maxAgeFlag         time.Duration
	maxSizeFlag        int64
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&listenFlag, "listen", ":8080", "Address to listen on")
	flag.StringVar(&targetFlag, "target", "", "Upstream origin to proxy to (overrides config)")
	flag.StringVar(&providerFlag, "provider", "memory", "Cache store to use (memory or sqlite)")
	flag.StringVar(&dbFileFlag, "db", "./cache.db", "Database file for the sqlite store")
	flag.DurationVar(&maxAgeFlag, "max-age", 0, "Entry time-to-live, 0 for unbounded")
	flag.Int64Var(&maxSizeFlag, "max-size", 0, "Aggregate cache size in bytes, 0 for unbounded")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var fileConfig cachefront.FileConfig
	if configFilenameFlag != "" {
		var err error
		fileConfig, err = cachefront.LoadConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}

	if targetFlag != "" {
		fileConfig.Target = targetFlag
	}
	if fileConfig.Target == "" {
		log.Fatal().Msg("Please specify target")
	}
	if fileConfig.Listen != "" {
		listenFlag = fileConfig.Listen
	}
	if fileConfig.Provider != "" {
		providerFlag = fileConfig.Provider
	}
	if fileConfig.DBFile != "" {
		dbFileFlag = fileConfig.DBFile
	}

	config, err := fileConfig.ProxyConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if maxAgeFlag != 0 {
		config.Cache.MaxAge = maxAgeFlag
	}
	if maxSizeFlag != 0 {
		config.Cache.MaxSize = maxSizeFlag
	}

	switch providerFlag {
	case "memory":
		config.Store = cache.NewMemoryStore()
	case "sqlite":
		store, err := cache.NewSQLiteStore(dbFileFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open sqlite store")
		}
		config.Store = store
	default:
		log.Fatal().Msgf("Unsupported cache store: %s", providerFlag)
	}

	config.Logger = &log.Logger

	proxy, err := cachefront.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not initialize proxy")
	}

	router := chi.NewRouter()
	for _, route := range fileConfig.Routes {
		router.Mount(route.Mount, proxy.Handler(cachefront.RouteOptions{
			StripPrefix: route.StripPrefix,
			BasePath:    route.BasePath,
		}))
	}
	if len(fileConfig.Routes) == 0 {
		router.Mount("/", proxy)
	}

	log.Info().Str("listen", listenFlag).Str("target", fileConfig.Target).Msg("Starting proxy")
	if err := http.ListenAndServe(listenFlag, router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
