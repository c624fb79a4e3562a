package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"github.com/vango-dev/pulse/internal/errors"
)

// requestTimeout bounds one-shot adapter calls.
const requestTimeout = 15 * time.Second

func getCmd(flags *globalFlags) *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the stored value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(cfg, slog.Default())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			key := args[0]
			data, ok, err := adapter.Load(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf(errors.CategoryCLI, "key %q is not set", key)
			}

			if !pretty {
				_, err := os.Stdout.Write(append(data, '\n'))
				return err
			}

			var v any
			if err := codecFor(cfg).Unmarshal(data, &v); err != nil {
				return errors.New(errors.CodeEncode).WithDetailf("decode %q as %s", key, cfg.Storage.Codec).Wrap(err)
			}
			_, err = pp.Println(v)
			return err
		},
	}

	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "Decode and pretty-print the value")

	return cmd
}

func setCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Store a value given as JSON",
		Long: `Store a value given as JSON.

The value is re-encoded with the configured codec, so a yaml store
receives YAML.`,
		Example: `  pulse set cart '[{"id": 1, "quantity": 2}]'
  pulse set theme '"dark"'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			key := args[0]
			var v any
			if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
				return errors.New(errors.CodeUsage).
					WithDetailf("value for %q is not valid JSON", key).
					WithSuggestion(`Quote strings twice, e.g. '"dark"'.`).
					Wrap(err)
			}
			data, err := codecFor(cfg).Marshal(v)
			if err != nil {
				return errors.New(errors.CodeEncode).WithDetailf("key %q", key).Wrap(err)
			}

			adapter, err := openAdapter(cfg, slog.Default())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if err := adapter.Store(ctx, key, data); err != nil {
				return err
			}
			success("Set %s (%d bytes)", keyStyle.Render(key), len(data))
			return nil
		},
	}

	return cmd
}

func deleteCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete KEY",
		Aliases: []string{"rm"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(cfg, slog.Default())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if err := adapter.Delete(ctx, args[0]); err != nil {
				return err
			}
			success("Deleted %s", keyStyle.Render(args[0]))
			return nil
		},
	}

	return cmd
}

// formatValue renders a decoded value on one line.
func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
