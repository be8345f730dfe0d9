// Package cli implements the protocodec command.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/convert"
	"github.com/jhump/protocodec/schema"
)

const (
	envPrefix = "PROTOCODEC"

	flagProto    = "proto"
	flagMessage  = "message"
	flagPath     = "path"
	flagProtoc   = "protoc"
	flagCompiler = "compiler"
	flagLogLevel = "log-level"

	compilerProtoc  = "protoc"
	compilerBuiltin = "builtin"
)

// NewRootCmd returns the protocodec command, with its encode and decode
// subcommands. Every flag may also be set with an environment variable named
// PROTOCODEC_ followed by the flag name in upper case, with dashes replaced
// by underscores.
func NewRootCmd() *cobra.Command {
	// lets "enc" and "dec" select the subcommands
	cobra.EnablePrefixMatching = true

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "protocodec",
		Short: "Convert protobuf messages between JSON and the binary wire format",
		Long: `Convert protobuf messages between JSON and the binary wire format.

The schema is compiled from a .proto source file. Input is read from stdin in
full, and output is written to stdout only if the conversion succeeds.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), v.GetString(flagLogLevel))
			if err != nil {
				return err
			}
			cmd.SetContext(logger.WithContext(cmd.Context()))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP(flagProto, "p", "", "The .proto source file that defines the message type.")
	flags.StringP(flagMessage, "m", "", "The fully-qualified name of the message type, e.g. pkg.Msg.")
	flags.StringArray(flagPath, nil, "A directory in which to search for imports. Repeat the flag for more than one.")
	flags.String(flagProtoc, "protoc", "The protoc binary to run when --compiler=protoc.")
	flags.String(flagCompiler, compilerProtoc, `The schema compiler: "protoc" runs the protoc binary, "builtin" compiles in-process.`)
	flags.String(flagLogLevel, zerolog.WarnLevel.String(), "Log level: trace, debug, info, warn, error, or disabled. Logs go to stderr.")
	bindFlags(v, flags)

	rootCmd.AddCommand(
		newConvertCmd(v, convert.DirectionEncode, "Convert JSON on stdin to the binary format on stdout"),
		newConvertCmd(v, convert.DirectionDecode, "Convert the binary format on stdin to JSON on stdout"),
	)
	return rootCmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// only fails for a nil flag
		_ = v.BindPFlag(f.Name, f)
	})
}

func newConvertCmd(v *viper.Viper, direction convert.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			err := run(ctx, v, direction, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				log.Ctx(ctx).Debug().Err(err).Str("kind", codecerr.KindOf(err).String()).Msg("conversion failed")
			}
			return err
		},
	}
}

func run(ctx context.Context, v *viper.Viper, direction convert.Direction, in io.Reader, out io.Writer) error {
	source := v.GetString(flagProto)
	if source == "" {
		return fmt.Errorf("required flag --%s (or %s_PROTO) not set", flagProto, envPrefix)
	}
	messageName := v.GetString(flagMessage)
	if messageName == "" {
		return fmt.Errorf("required flag --%s (or %s_MESSAGE) not set", flagMessage, envPrefix)
	}
	compiler, err := newCompiler(v.GetString(flagCompiler), v.GetString(flagProtoc))
	if err != nil {
		return err
	}

	driver := &convert.Driver{Loader: schema.NewCache(compiler)}
	return driver.Run(ctx, convert.Request{
		Direction:   direction,
		Source:      source,
		ImportPaths: v.GetStringSlice(flagPath),
		MessageName: messageName,
	}, in, out)
}

func newCompiler(kind, protocPath string) (schema.Compiler, error) {
	switch kind {
	case compilerProtoc:
		return &schema.Protoc{Path: protocPath}, nil
	case compilerBuiltin:
		return &schema.SourceCompiler{}, nil
	default:
		return nil, fmt.Errorf("invalid --%s %q: must be %q or %q", flagCompiler, kind, compilerProtoc, compilerBuiltin)
	}
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid --%s %q: %w", flagLogLevel, level, err)
	}
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	console := zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) {
		cw.Out = w
		cw.NoColor = !color
		cw.TimeFormat = time.TimeOnly
	})
	return zerolog.New(console).Level(lvl).With().Timestamp().Logger(), nil
}

// Execute runs the protocodec command with the process arguments. Errors
// are printed to stderr and returned.
func Execute(ctx context.Context) error {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
