// taskd - the in-guest task agent. It listens on a vsock port, accepts one
// recipe per connection and executes it against the guest filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/taskd/config"
	"github.com/chazu/taskd/fsops"
	"github.com/chazu/taskd/protocol"
	"github.com/chazu/taskd/server"
)

var log = commonlog.GetLogger("taskd")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }
func (v *verbosity) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

func main() {
	var verbose verbosity
	flag.Var(&verbose, "v", "Increase log verbosity (repeatable)")
	configPath := flag.String("config", "", "Path to taskd.toml (default: search upward from the working directory)")
	daemon := flag.Bool("daemon", false, "Detach from the terminal and run in the background")
	pidFile := flag.String("pidfile", "", "Write the daemon PID to this file")
	runFile := flag.String("run", "", "Execute a recipe file locally and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: taskd [options] [port]\n\n")
		fmt.Fprintf(os.Stderr, "Serves recipes on a vsock port (default from taskd.toml, else 1024).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  taskd 1024                    # Serve on vsock port 1024\n")
		fmt.Fprintf(os.Stderr, "  taskd -daemon -pidfile /run/taskd.pid 1024\n")
		fmt.Fprintf(os.Stderr, "  taskd -run recipe.json -v     # Execute a recipe without a listener\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}
	if flag.NArg() == 1 {
		port, err := strconv.ParseUint(flag.Arg(0), 10, 32)
		if err != nil || port == 0 {
			fmt.Fprintf(os.Stderr, "Invalid port %q\n", flag.Arg(0))
			os.Exit(1)
		}
		cfg.SetPort(uint32(port))
	}
	cfg.Log.Verbosity += int(verbose)

	if *runFile != "" {
		configureLogging(cfg)
		if _, err := runLocal(cfg, *runFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *daemon && !isDaemonChild() {
		if err := daemonize(cfg, int(verbose), *pidFile, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if isDaemonChild() {
		enterDaemon()
	}

	configureLogging(cfg)
	if *pidFile != "" {
		if err := os.WriteFile(*pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			log.Warningf("cannot write pid file: %v", err)
		} else {
			defer os.Remove(*pidFile)
		}
	}

	if err := serve(cfg); err != nil {
		log.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or searches upward from the working directory
// when path is empty. No file means defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func configureLogging(cfg *config.Config) {
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
}

// serve runs the agent until SIGINT or SIGTERM.
func serve(cfg *config.Config) error {
	codec, err := protocol.CodecByName(cfg.Protocol.Encoding)
	if err != nil {
		return err
	}
	l, err := server.Listen(cfg.Listen.Transport, cfg.Listen.Address, cfg.Listen.Port, cfg.Listen.Backlog)
	if err != nil {
		return err
	}

	agent := server.Start(fsops.New(cfg.VM.Seed), cfg.VM.QueueSize)
	defer agent.Stop()
	srv := server.New(agent,
		server.WithCodec(codec),
		server.WithMaxMessageBytes(cfg.Protocol.MaxMessageBytes),
		server.WithMinVersion(cfg.Protocol.MinVersion),
	)
	log.Noticef("listening on %s %s (%s)", cfg.Listen.Transport, l.Addr(), codec.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	g.Go(func() error {
		select {
		case sig := <-sigs:
			log.Noticef("shutting down on %v", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		return srv.Serve(ctx, l)
	})
	return g.Wait()
}
