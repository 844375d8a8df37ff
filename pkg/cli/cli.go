package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecocircle/notifymail/pkg/config"
	"github.com/ecocircle/notifymail/pkg/mail"
	"github.com/ecocircle/notifymail/pkg/metrics"
	"github.com/ecocircle/notifymail/pkg/system"
	"github.com/ecocircle/notifymail/pkg/version"
)

const (
	usageLine   = "Usage: notifymail <recipient_email> <reset_url>"
	pushTimeout = 5 * time.Second
)

// ErrUsage means the command line was malformed. It is detected before any
// configuration is read or any connection is made.
var ErrUsage = errors.New("usage error")

// errReported marks failures whose status line was already printed.
var errReported = errors.New("failure already reported")

// SenderFactory creates the transport for a loaded relay configuration.
type SenderFactory func(cfg config.RelayConfig, log *zap.SugaredLogger) mail.Sender

type Config struct {
	Stdout    io.Writer
	Stderr    io.Writer
	NewSender SenderFactory
	NewLogger func(debug bool) (*zap.Logger, error)
}

func DefaultConfig() Config {
	return Config{
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		NewSender: mail.NewSender,
		NewLogger: system.NewLogger,
	}
}

type options struct {
	configPath    string
	recipientName string
	pushgateway   string
	debug         bool
	dryRun        bool
}

// Run executes the command line with the process defaults and returns the
// exit status.
func Run(args []string) int {
	return DefaultConfig().Run(args)
}

// Run executes the command line and returns the exit status: 0 when the
// relay accepted the message, 1 otherwise.
func (c Config) Run(args []string) int {
	c = c.withDefaults()
	root := NewRootCommand(c)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		_, _ = fmt.Fprintln(c.Stderr, usageLine)
	case errors.Is(err, errReported):
	default:
		_, _ = fmt.Fprintf(c.Stderr, "Error: %v\n", err)
	}
	return 1
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Stdout == nil {
		c.Stdout = d.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = d.Stderr
	}
	if c.NewSender == nil {
		c.NewSender = d.NewSender
	}
	if c.NewLogger == nil {
		c.NewLogger = d.NewLogger
	}
	return c
}

// NewRootCommand builds the notifymail command. It takes exactly two
// positional arguments: the recipient address and the action URL.
func NewRootCommand(c Config) *cobra.Command {
	c = c.withDefaults()
	opts := &options{}

	root := &cobra.Command{
		Use:           "notifymail <recipient_email> <reset_url>",
		Short:         "Send a password reset email through the configured relay",
		Version:       version.GetBuildInfo().String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("%w: expected 2 arguments, got %d", ErrUsage, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(cmd.Context(), opts, args[0], args[1])
		},
	}
	root.SetOut(c.Stdout)
	root.SetErr(c.Stderr)
	root.SetVersionTemplate("notifymail {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", getEnvString(config.EnvConfigPath, ""),
		"Path to the relay configuration file. Without it, configuration comes from NOTIFYMAIL_* environment variables")
	flags.StringVar(&opts.recipientName, "name", "",
		"Recipient display name used in the greeting (default \"User\")")
	flags.StringVar(&opts.pushgateway, "pushgateway", getEnvString(config.EnvPushgateway, ""),
		"Prometheus Pushgateway URL to push dispatch metrics to")
	flags.BoolVar(&opts.debug, "debug", getEnvBool("NOTIFYMAIL_DEBUG", false), "Enable debug level logging")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print the MIME message to stdout instead of sending it")

	return root
}

func (c Config) send(ctx context.Context, opts *options, recipient, actionURL string) error {
	zl, err := c.NewLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar().With("version", version.Version)

	load := config.Load
	if opts.dryRun {
		load = config.LoadPreview
	}
	relay, err := load(opts.configPath)
	if err != nil {
		log.Errorw("Error loading relay configuration", "error", err)
		return fmt.Errorf("loading configuration: %w", err)
	}

	req := mail.NotificationRequest{
		RecipientAddress: recipient,
		ActionURL:        actionURL,
		RecipientName:    opts.recipientName,
		Kind:             mail.KindPasswordReset,
	}

	if opts.dryRun {
		notifier := mail.NewNotifier(relay, nil, log)
		env, err := notifier.Prepare(req)
		if err != nil {
			return err
		}
		_, err = env.WriteTo(c.Stdout)
		return err
	}

	notifier := mail.NewNotifier(relay, c.NewSender(relay, log), log)
	outcome := notifier.Notify(ctx, req)

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := metrics.Push(pushCtx, opts.pushgateway); err != nil {
		log.Warnw("Could not push dispatch metrics", "error", err)
	}

	if !outcome.IsSent() {
		_, _ = fmt.Fprintf(c.Stderr, "Failed to send password reset email: %s\n", outcome.Reason())
		return errReported
	}
	_, _ = fmt.Fprintf(c.Stdout, "Password reset email sent successfully to %s\n", recipient)
	return nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
