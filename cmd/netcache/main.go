package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/jkaberg/netcache/cache"
	"github.com/jkaberg/netcache/config"
	"github.com/jkaberg/netcache/console"
	"github.com/jkaberg/netcache/fs"
	"github.com/jkaberg/netcache/httpc"
	dlog "github.com/jkaberg/netcache/log"
	"github.com/jkaberg/netcache/server"
)

const (
	configFlag = "config"
	portFlag   = "http-port"
	outFlag    = "out"
	fileFlag   = "file"
)

func main() {
	app := &cli.App{
		Name:  "netcache",
		Usage: "Local-first asset cache refreshed from http mirrors.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Value:   "./netcache-data/config/config.yaml",
				EnvVars: []string{"NETCACHE_CONFIG"},
				Usage:   "YAML file containing netcache configuration.",
			},
			&cli.IntFlag{
				Name:    portFlag,
				EnvVars: []string{"NETCACHE_HTTP_PORT"},
				Usage:   "HTTP port for the admin interface. Overrides the configuration file.",
			},
		},

		Action: serveAction,

		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the cache and its admin interface until interrupted.",
				Action: serveAction,
			},
			{
				Name:      "get",
				Usage:     "Print a file as served by the cache.",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: outFlag, Aliases: []string{"o"}, Usage: "Write to this file instead of stdout."},
				},
				Action: oneShot(getAction),
			},
			{
				Name:      "put",
				Usage:     "Write a file into the cache as a local file. Reads stdin when no source is given.",
				ArgsUsage: "<name> [source]",
				Action:    oneShot(putAction),
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from the cache, or from the base directory when it is not cached.",
				ArgsUsage: "<name>",
				Action:    oneShot(rmAction),
			},
			{
				Name:      "fetch",
				Usage:     "Fetch a file from the mirrors now, ignoring the refresh backoff.",
				ArgsUsage: "<name>",
				Action:    oneShot(fetchAction),
			},
			{
				Name:  "manifest",
				Usage: "Print the cache manifest as JSON.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: fileFlag, Usage: "Only print the entry of this file."},
				},
				Action: oneShot(manifestAction),
			},
		},

		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem starting application")
	}
}

func loadConfig(c *cli.Context) (*config.Root, error) {
	ch := config.NewHandler(c.String(configFlag))

	conf, err := ch.Get()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	if p := c.Int(portFlag); p != 0 {
		conf.HTTPGlobal.Port = p
	}

	dlog.Load(conf.Log)
	return conf, nil
}

func newCache(ctx context.Context, conf *config.Root) (*cache.Cache, error) {
	client := httpc.NewClient(
		httpc.WithDialTimeout(time.Duration(conf.Fetch.DialTimeout)*time.Second),
		httpc.WithReadTimeout(time.Duration(conf.Fetch.ReadTimeout)*time.Second),
		httpc.WithReadyAttempts(conf.Fetch.ReadyAttempts),
		httpc.WithReadyWait(time.Duration(conf.Fetch.ReadyWaitMs)*time.Millisecond),
		httpc.WithRateLimit(conf.Fetch.DownloadLimitKB*1024),
		httpc.WithMaxBodySize(int64(conf.Fetch.MaxBodyMB)*1024*1024),
	)

	options := []cache.Option{cache.WithFetcher(client)}
	if conf.Bundle.Archive != "" {
		a, err := fs.NewArchive(conf.Bundle.Archive)
		if err != nil {
			return nil, fmt.Errorf("error opening bundle archive: %w", err)
		}
		options = append(options, cache.WithMaterializer(a))
	}

	return cache.New(ctx, cache.Config{
		BasePath:        conf.Cache.BasePath,
		BaseDirName:     conf.Cache.BaseDirName,
		SearchDepth:     conf.Cache.SearchDepth,
		CachePath:       conf.Cache.CachePath,
		NetPath:         conf.Fetch.NetPath,
		RefreshInterval: time.Duration(conf.Fetch.RefreshInterval) * time.Second,
		FetchDelay:      time.Duration(conf.Fetch.FetchDelay) * time.Second,
		StartupGrace:    time.Duration(conf.Fetch.StartupGrace) * time.Second,
		ManifestBackend: conf.Manifest.Backend,
		Watch:           conf.Cache.Watch,
		WatchInterval:   time.Duration(conf.Cache.WatchInterval) * time.Second,
	}, options...)
}

func serveAction(c *cli.Context) error {
	err := serve(c)

	// stop program execution on errors to avoid flashing consoles
	if err != nil && runtime.GOOS == "windows" {
		log.Error().Err(err).Msg("problem starting application")
		fmt.Print("Press 'Enter' to continue...")
		_, _ = bufio.NewReader(os.Stdin).ReadBytes('\n')
	}

	return err
}

func serve(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	nc, err := newCache(ctx, conf)
	if err != nil {
		return fmt.Errorf("error starting cache: %w", err)
	}

	reg := console.NewRegistry()
	nc.RegisterConsole(reg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// the host drives the refresh worker
	go func() {
		t := time.NewTicker(time.Duration(conf.Cache.TickInterval) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				nc.Tick()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-sigChan
		log.Info().Msg("closing cache...")
		cancel()
		if err := nc.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("problem writing cache manifest")
		}
		if nc.CacheUpdated() {
			log.Info().Msg("cached files were updated during this run")
		}

		log.Info().Msg("exiting")
		os.Exit(0)
	}()

	logFilename := filepath.Join(conf.Log.Path, dlog.FileName)

	err = server.StartServers(nc, reg, conf.HTTPGlobal, logFilename)
	if err != nil {
		log.Error().Err(err).Msg("error initializing HTTP server")
		return err
	}

	// admin interface disabled, run until the signal handler exits
	select {}
}

// oneShot opens the cache for the duration of a single command.
func oneShot(fn func(c *cli.Context, nc *cache.Cache) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		conf, err := loadConfig(c)
		if err != nil {
			return err
		}

		nc, err := newCache(c.Context, conf)
		if err != nil {
			return fmt.Errorf("error starting cache: %w", err)
		}

		err = fn(c, nc)
		if serr := nc.Shutdown(); serr != nil {
			log.Warn().Err(serr).Msg("problem writing cache manifest")
		}
		return err
	}
}

func argName(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", errors.New("missing file name")
	}
	return c.Args().First(), nil
}

func getAction(c *cli.Context, nc *cache.Cache) error {
	name, err := argName(c)
	if err != nil {
		return err
	}

	data, err := nc.ReadWholeFile(name)
	if err != nil {
		return err
	}

	if out := c.String(outFlag); out != "" {
		return os.WriteFile(out, data, 0644)
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func putAction(c *cli.Context, nc *cache.Cache) error {
	name, err := argName(c)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if c.NArg() > 1 && c.Args().Get(1) != "-" {
		f, err := os.Open(c.Args().Get(1))
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	f, err := nc.OpenForWrite(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	e := nc.Manifest().Get(name)
	log.Info().Str("file", name).Str("md5", e.MD5).Msg("file written")
	return nil
}

func rmAction(c *cli.Context, nc *cache.Cache) error {
	name, err := argName(c)
	if err != nil {
		return err
	}
	return nc.Delete(name)
}

func fetchAction(c *cli.Context, nc *cache.Cache) error {
	name, err := argName(c)
	if err != nil {
		return err
	}

	updated, err := nc.Refresh(c.Context, name)
	if err != nil {
		return err
	}
	if updated {
		log.Info().Str("file", name).Msg("file updated from mirror")
	} else {
		log.Info().Str("file", name).Msg("file unchanged")
	}
	return nil
}

func manifestAction(c *cli.Context, nc *cache.Cache) error {
	var v interface{} = nc.Manifest().Snapshot()
	if file := c.String(fileFlag); file != "" {
		name, err := cache.CleanName(file)
		if err != nil {
			return err
		}
		if !nc.Manifest().Has(name) {
			return fmt.Errorf("no manifest entry for %s", name)
		}
		v = nc.Manifest().Get(name)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
