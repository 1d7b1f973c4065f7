package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/cli"
	"github.com/willibrandon/composer-prefetch/cmd/composer-prefetch/output"
	"github.com/willibrandon/composer-prefetch/config"
	"github.com/willibrandon/composer-prefetch/legacy"
)

type filterOptions struct {
	Require []string
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(console *output.Console) *cobra.Command {
	opts := &filterOptions{}

	cmd := &cobra.Command{
		Use:   "filter FILE",
		Short: "Remove legacy tags from a provider metadata file",
		Long: `Applies version restrictions to a provider metadata file and prints the
filtered document, as the prefetcher does before caching it.

--require takes the same "vendor/package:constraint" list as
AUTOMATIC_PREFETCHER_REQUIRE and may be repeated.

Examples:
  composer-prefetch filter provider.json --require symfony/symfony:^5.4
  composer-prefetch filter p2/laravel/framework.json --require "laravel/framework:>=10"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(console, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Require, "require", nil, "Restriction as vendor/package:constraint (repeatable)")

	return cmd
}

func runFilter(console *output.Console, file string, opts *filterOptions) error {
	f := legacy.NewFilter(cli.Options.Logger())
	for _, value := range opts.Require {
		constraints, err := config.ParseRequire(value)
		if err != nil {
			return err
		}
		for name, c := range constraints {
			if err := f.AddConstraint(name, c); err != nil {
				return err
			}
		}
	}
	if f.Len() == 0 {
		return errors.New("at least one --require is needed")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	doc, err := legacy.DecodeDocument(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}

	body, err := f.RemoveLegacyTags(doc).Encode()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "    "); err != nil {
		return err
	}
	console.Println(buf.String())
	return nil
}
