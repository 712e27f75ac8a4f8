package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/birdie-ai/golibs/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jspreddy/dql/engine"
	"github.com/jspreddy/dql/types"
)

const defaultRegion = "us-west-1"

// RootOptions holds the flags of the dql command.
type RootOptions struct {
	Command    string
	File       string
	Region     string
	Host       string
	Port       int
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Connector builds the DynamoDB client used by a command run.
type Connector func(ctx context.Context, opts *RootOptions) (engine.DynamoDB, error)

// NewRootCommand creates the dql command connected to AWS.
func NewRootCommand() *cobra.Command {
	return newRootCommand(connectAWS, prometheus.DefaultRegisterer)
}

func newRootCommand(connect Connector, reg prometheus.Registerer) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dql",
		Short: "DQL - a query language for DynamoDB",
		Long: `Run DQL statements against DynamoDB.

Statements come from --command, from --file or, when neither is set,
line by line from standard input. A statement runs once its ';' is read.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}

			if opts.Command != "" && opts.File != "" {
				return NewExitError(ExitCommandError, "--command and --file are mutually exclusive")
			}

			logCfg, err := slog.LoadConfig("DQL")
			if err != nil {
				return WrapExitError(ExitCommandError, "loading log config", err)
			}

			return slog.Configure(logCfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, reg)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Command, "command", "c", "", "statements to run")
	cmd.PersistentFlags().StringVarP(&opts.File, "file", "f", "", "file of statements to run")
	cmd.PersistentFlags().StringVar(&opts.Region, "region", "", "AWS region (default $AWS_REGION or "+defaultRegion+")")
	cmd.PersistentFlags().StringVar(&opts.Host, "host", "", "DynamoDB host, for DynamoDB Local")
	cmd.PersistentFlags().IntVar(&opts.Port, "port", 8000, "DynamoDB port, used with --host")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "engine config file (yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	return cmd
}

func run(cmd *cobra.Command, opts *RootOptions, connect Connector, reg prometheus.Registerer) error {
	cfg := engine.DefaultConfig()

	if opts.ConfigPath != "" {
		var err error

		cfg, err = engine.LoadConfig(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading config", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = slog.NewContext(ctx, slog.With("host", opts.Host, "region", opts.Region))

	client, err := connect(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "connecting to DynamoDB", err)
	}

	e, err := engine.New(client, engine.WithConfig(cfg), engine.WithRegisterer(reg))
	if err != nil {
		return WrapExitError(ExitCommandError, "creating engine", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}

	switch {
	case opts.Command != "":
		return runText(ctx, e, formatter, withTerminator(opts.Command))
	case opts.File != "":
		text, err := os.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "reading "+opts.File, err)
		}

		return runText(ctx, e, formatter, string(text))
	default:
		return runSession(ctx, e.NewSession(), formatter, cmd.InOrStdin())
	}
}

// withTerminator lets -c take a single statement without its ';'.
func withTerminator(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.HasSuffix(trimmed, ";") {
		return trimmed
	}

	return trimmed + ";"
}

func runText(ctx context.Context, e *engine.Engine, f *OutputFormatter, text string) error {
	res, err := e.Execute(ctx, text)
	if err != nil {
		return err
	}

	return f.Result(res)
}

func runSession(ctx context.Context, s *engine.Session, f *OutputFormatter, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	failed := false

	for scanner.Scan() {
		res, err := s.Execute(ctx, scanner.Text())
		if err != nil {
			// a failed statement does not end the session
			f.Error(err)

			failed = true

			continue
		}

		if res.Partial {
			continue
		}

		if err := f.Result(res); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "reading input", err)
	}

	if pending := strings.TrimSpace(s.Pending()); pending != "" {
		return NewExitError(ExitFailure, "unterminated statement: "+pending)
	}

	if failed {
		return NewExitError(ExitFailure, "some statements failed")
	}

	return nil
}

func connectAWS(ctx context.Context, opts *RootOptions) (engine.DynamoDB, error) {
	loadOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	if opts.Host != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{
					AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy",
					Source: "Hard-coded credentials; values are irrelevant for local DynamoDB",
				},
			}),
			config.WithRetryer(func() aws.Retryer {
				return aws.NopRetryer{}
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	slog.FromCtx(ctx).Debug("dynamodb client configured", "region", cfg.Region)

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Host != "" {
			o.BaseEndpoint = aws.String("http://" + opts.Host + ":" + strconv.Itoa(opts.Port))
		}
	}), nil
}

// ExitCode maps an error returned by the dql command to a process exit code.
func ExitCode(err error) int {
	if types.HasCode(err, types.CodeParse) || types.HasCode(err, types.CodeValidation) {
		return ExitCommandError
	}

	return GetExitCode(err)
}
