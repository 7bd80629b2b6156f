package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tnunamak/clawpulse/internal/autostart"
	"github.com/tnunamak/clawpulse/internal/cli"
	"github.com/tnunamak/clawpulse/internal/notify"
	"github.com/tnunamak/clawpulse/internal/server"
	"github.com/tnunamak/clawpulse/internal/service"
)

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Debug bool `long:"debug" description:"enable debug logging"`

	Status  *StatusCmd  `command:"status" description:"Show current usage (default)"`
	Login   *LoginCmd   `command:"login" description:"Sign in with your Claude account"`
	Logout  *LogoutCmd  `command:"logout" description:"Remove stored OAuth credentials"`
	Watch   *WatchCmd   `command:"watch" description:"Poll usage and serve it over a loopback HTTP API"`
	Version *VersionCmd `command:"version" description:"Show version"`

	stdout io.Writer
	stderr io.Writer
}

func NewOptions(stdout, stderr io.Writer) *Options {
	o := &Options{stdout: stdout, stderr: stderr}
	o.Status = &StatusCmd{root: o}
	o.Login = &LoginCmd{root: o}
	o.Logout = &LogoutCmd{root: o}
	o.Watch = &WatchCmd{root: o}
	o.Version = &VersionCmd{root: o}
	return o
}

// logLevel is the level for a command that is quiet unless asked.
func (o *Options) logLevel(quiet string) string {
	if o.Debug {
		return "debug"
	}
	return quiet
}

type StatusCmd struct {
	JSON  bool `long:"json" description:"output JSON"`
	YAML  bool `long:"yaml" description:"output YAML"`
	Plain bool `long:"plain" description:"plain text, no color codes"`
	Mock  bool `long:"mock" description:"show demo data instead of calling the API"`

	root *Options
}

func (c *StatusCmd) format() cli.Format {
	switch {
	case c.JSON:
		return cli.FormatJSON
	case c.YAML:
		return cli.FormatYAML
	case c.Plain:
		return cli.FormatPlain
	}
	if f, ok := c.root.stdout.(*os.File); ok {
		return cli.AutoFormat(f)
	}
	return cli.FormatPlain
}

func (c *StatusCmd) Execute(_ []string) error {
	if c.JSON && c.YAML {
		return errors.New("--json and --yaml are mutually exclusive")
	}
	a, err := newApp(appOptions{level: c.root.logLevel("warn"), mock: c.Mock})
	if err != nil {
		return err
	}
	defer a.close()

	code := cli.Status(context.Background(), a.svc, cli.StatusOptions{
		Format: c.format(),
		Out:    c.root.stdout,
		Err:    c.root.stderr,
	})
	if code != cli.ExitOK {
		return exitCode(code)
	}
	return nil
}

type LoginCmd struct {
	NoBrowser bool `long:"no-browser" description:"print the sign-in URL instead of opening a browser"`

	root *Options
}

func (c *LoginCmd) Execute(_ []string) error {
	a, err := newApp(appOptions{level: c.root.logLevel("warn"), noBrowser: c.NoBrowser, out: c.root.stdout})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := a.svc.Login(ctx)
	if !res.Success {
		fmt.Fprintf(c.root.stderr, "clawpulse: %s\n", res.Error)
		return exitCode(cli.ExitAuth)
	}
	fmt.Fprintln(c.root.stdout, "Signed in.")
	if res.Data != nil && res.Data.OK() {
		cli.PrintPlain(c.root.stdout, res.Data, time.Now())
	}
	return nil
}

type LogoutCmd struct {
	root *Options
}

func (c *LogoutCmd) Execute(_ []string) error {
	a, err := newApp(appOptions{level: c.root.logLevel("warn")})
	if err != nil {
		return err
	}
	defer a.close()

	a.svc.Logout()
	fmt.Fprintln(c.root.stdout, "Signed out.")
	return nil
}

type WatchCmd struct {
	Interval time.Duration `long:"interval" description:"poll interval (default from CLAWPULSE_POLL_INTERVAL)"`
	Listen   string        `long:"listen" description:"HTTP API address, \"off\" to disable (default from CLAWPULSE_LISTEN_ADDR)"`
	Mock     bool          `long:"mock" description:"serve demo data instead of calling the API"`
	Notify   bool          `long:"notify" description:"raise desktop notifications at 80% and 95%"`

	Install   bool `long:"install" description:"start the watcher with these flags at login, then exit"`
	Uninstall bool `long:"uninstall" description:"stop starting the watcher at login, then exit"`

	root *Options
}

// autostartArgs reproduces the flags the watcher should start with.
func (c *WatchCmd) autostartArgs() []string {
	args := []string{"watch"}
	if c.Interval > 0 {
		args = append(args, "--interval", c.Interval.String())
	}
	if c.Listen != "" {
		args = append(args, "--listen", c.Listen)
	}
	if c.Mock {
		args = append(args, "--mock")
	}
	if c.Notify {
		args = append(args, "--notify")
	}
	return args
}

func (c *WatchCmd) toggleAutostart() error {
	inst := autostart.New()
	if c.Uninstall {
		if err := inst.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(c.root.stdout, "clawpulse watch will no longer start at login")
		return nil
	}

	bin, err := autostart.ExecPath()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	path, err := inst.Install(bin, c.autostartArgs())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.root.stdout, "clawpulse watch will start at login (%s)\n", path)
	return nil
}

func (c *WatchCmd) Execute(_ []string) error {
	if c.Install && c.Uninstall {
		return errors.New("--install and --uninstall are mutually exclusive")
	}
	if c.Install || c.Uninstall {
		return c.toggleAutostart()
	}

	var observers []service.Observer
	if c.Notify {
		observers = append(observers, notify.New(notify.NewDesktop(), nil))
	}
	a, err := newApp(appOptions{level: c.root.logLevel("info"), mock: c.Mock, observers: observers, out: c.root.stdout})
	if err != nil {
		return err
	}
	defer a.close()

	interval := c.Interval
	if interval <= 0 {
		interval = a.cfg.PollInterval
	}
	listen := c.Listen
	if listen == "" {
		listen = a.cfg.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.svc.Watch(ctx, interval)
		return nil
	})
	if listen != "off" {
		srv := server.New(a.svc, server.Settings{
			RefreshInterval: interval,
			Debug:           c.root.Debug,
			Mock:            c.Mock,
		}, a.logger)
		g.Go(func() error {
			return srv.ListenAndServe(ctx, listen)
		})
	}

	err = g.Wait()
	a.logger.Info("watch stopped", zap.Error(err))
	return err
}

type VersionCmd struct {
	root *Options
}

func (c *VersionCmd) Execute(_ []string) error {
	fmt.Fprintln(c.root.stdout, "clawpulse "+Version)
	return nil
}
