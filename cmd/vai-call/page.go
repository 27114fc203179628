package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-call/pkg/call/pagecontext"
)

type pageFlags struct {
	url  string
	file string
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "page", "", "url of the page to talk about")
	cmd.Flags().StringVar(&f.file, "page-file", "", "local html file to talk about")
	cmd.MarkFlagsMutuallyExclusive("page", "page-file")
}

func (f *pageFlags) set() bool { return f.url != "" || f.file != "" }

// load returns the rendered page context, or "" when no page was given.
func (f *pageFlags) load(ctx context.Context, deps callDeps, maxChars int) (string, error) {
	var (
		page pagecontext.Page
		err  error
	)
	switch {
	case f.url != "":
		page, err = pagecontext.Fetch(ctx, deps.httpClient, f.url)
	case f.file != "":
		page, err = pagecontext.ReadFile(f.file, "")
	default:
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return page.Content(maxChars), nil
}

func newPageCmd(flags *globalFlags, deps callDeps) *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Print the page context that would be sent to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pf.set() {
				return errors.New("one of --page or --page-file is required")
			}
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			content, err := pf.load(cmd.Context(), deps, cfg.PageMaxChars)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}
