package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quotebot/internal/app"
	"quotebot/internal/config"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath     = flag.String("config", "", "path to config file (JSON or YAML); empty runs on built-in defaults")
		once        = flag.Bool("once", false, "post a single quote and exit")
		validate    = flag.Bool("validate", false, "check config file and environment, then exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("quotebot", version)
		return
	}

	// Local development convenience; deployments inject real env vars.
	_ = godotenv.Load()

	if *validate {
		if err := runValidate(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, "invalid:", err)
			os.Exit(1)
		}
		fmt.Println("ok")
		return
	}

	sec, err := config.LoadSecrets(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a, err := app.NewApp(*cfgPath, sec)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	if *once {
		go func() {
			<-sigc
			cancel()
		}()
		err := a.RunOnce(ctx)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopAppStop)
		stopCancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "post failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		os.Exit(1)
	}

	// Block until a shutdown signal arrives or the app dies on its own.
	reason := app.StopAppStop
	select {
	case s := <-sigc:
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	_ = a.Stop(stopCtx, reason)
	stopCancel()

	if reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "exited with error:", a.Err())
		os.Exit(1)
	}
}

// runValidate checks the config file and the credential environment without
// touching the network.
func runValidate(cfgPath string) error {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return err
	}
	if _, err := config.LoadSecrets(nil); err != nil {
		return err
	}
	return nil
}
