package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/calebstewart/shellcat/channel"
)

func main() {
	app := &cli.App{
		Name:  "shellcat",
		Usage: "attach a local terminal to a remote shell over a pluggable transport",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "protocol",
				Usage: "Transport to use. One of [connect,bind,ssh,tls-connect,tls-bind,ws-connect,ws-bind]. Inferred from the other flags when empty.",
			},
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Usage:   "The remote address to connect to, or the local address to bind.",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "The TCP port to connect to or bind.",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "The user to authenticate as (SSH only).",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "The password to authenticate with (SSH only, prompted when empty).",
			},
			&cli.StringFlag{
				Name:    "identity",
				Aliases: []string{"i"},
				Usage:   "Path to an SSH private key to authenticate with.",
			},
			&cli.StringFlag{
				Name:  "cert",
				Usage: "Path to a PEM certificate for TLS listeners.",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Path to the PEM key matching --cert.",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if c.Bool("verbose") {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	logr := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sessionID := uuid.New().String()
	logr = logr.With("SessionID", sessionID)

	ch, err := channel.New(ctx, c.String("protocol"), channel.Config{
		Host:     c.String("host"),
		Port:     c.Int("port"),
		User:     c.String("user"),
		Password: c.String("password"),
		Identity: c.String("identity"),
		CertFile: c.String("cert"),
		KeyFile:  c.String("key"),
		Logger:   logr,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Connect(ctx); err != nil {
		return err
	}
	logr.Infof("session %s established", sessionID)

	// The session relays raw bytes, so local line editing and signal keys
	// must be handed to the remote terminal.
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(stdinFd, state)
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, err := ch.Send(buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := ch.Recv(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if errors.Is(err, channel.ErrClosed) {
			fmt.Fprintf(os.Stderr, "\r\nconnection to %s lost\r\n", c.String("host"))
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}
