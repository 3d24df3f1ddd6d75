// Command gatehouse runs the authentication service and its management tasks.
//
//	gatehouse [serve]                      run the HTTP server and session reaper
//	gatehouse migrate                      apply database migrations
//	gatehouse useradd -username NAME       create an account (password read from stdin)
//	gatehouse cleanup-sessions             delete expired sessions once
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gatehouse/cmd/internal/app"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return app.Run()
	case "migrate":
		return oneShot(func(ctx context.Context, cfg app.Config, l app.Logger) error {
			return app.MigrateCommand(ctx, cfg, l)
		})
	case "useradd":
		return userAdd(args, stdin, stdout)
	case "cleanup-sessions":
		return oneShot(func(ctx context.Context, cfg app.Config, l app.Logger) error {
			n, err := app.CleanupSessionsCommand(ctx, cfg, l)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "removed %d expired sessions\n", n)
			return nil
		})
	case "-h", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func oneShot(fn func(ctx context.Context, cfg app.Config, l app.Logger) error) error {
	cfg, l, err := app.Bootstrap()
	if err != nil {
		return err
	}
	defer app.FlushSentry()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return fn(ctx, cfg, l)
}

func userAdd(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	username := fs.String("username", "", "account username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("useradd: -username is required")
	}

	pw, err := readPassword(stdin)
	if err != nil {
		return err
	}

	return oneShot(func(ctx context.Context, cfg app.Config, l app.Logger) error {
		u, err := app.AddUserCommand(ctx, cfg, l, *username, pw)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "created user %s (%s)\n", u.Username, u.ID)
		return nil
	})
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("useradd: empty password on stdin")
	}
	return pw, nil
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: gatehouse [serve|migrate|useradd -username NAME|cleanup-sessions]")
}
