package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-edge/pkg/config"
	"github.com/polisai/polis-edge/pkg/domain"
	"github.com/polisai/polis-edge/pkg/engine"
)

func newInvokeCmd(opts *rootOptions) *cobra.Command {
	var eventPath string

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Process one serverless event and print the response",
		Long: `Reads a serverless event as JSON from --event or standard input, runs it through
the proxy, upstream call included, and prints the response event as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			in := cmd.InOrStdin()
			if eventPath != "" {
				//nolint:gosec // Event path is supplied by the operator
				f, err := os.Open(eventPath)
				if err != nil {
					return fmt.Errorf("open event: %w", err)
				}
				defer f.Close()
				in = f
			}

			ev, err := engine.DecodeEvent(in)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			resp := rt.proxy.HandleEvent(cmd.Context(), ev)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVarP(&eventPath, "event", "e", "", "Path to the event JSON (default: standard input)")
	return cmd
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		referer string
		method  string
	)

	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Show how a path would be handled without contacting upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			rt, err := buildRuntime(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := domain.InboundRequest{Path: args[0], Method: method, Headers: http.Header{}}
			if referer != "" {
				req.Headers.Set("Referer", referer)
			}

			return printDecision(cmd.OutOrStdout(), rt.proxy.Decide(req))
		},
	}

	cmd.Flags().StringVar(&referer, "referer", "", "Referer header to evaluate against hotlink protection")
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "Request method")
	return cmd
}

func printDecision(out io.Writer, d engine.Decision) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "outcome\t%s\n", d.Outcome)
	switch d.Outcome {
	case domain.OutcomeRootPage:
		fmt.Fprintf(tw, "status\t%d\n", http.StatusOK)
	case domain.OutcomeBlockedExtension, domain.OutcomeBlockedHotlink:
		fmt.Fprintf(tw, "status\t%d\n", http.StatusForbidden)
		fmt.Fprintf(tw, "reason\t%s\n", domain.ErrorCode(d.Err))
	case domain.OutcomeNotFound:
		fmt.Fprintf(tw, "status\t%d\n", http.StatusNotFound)
	case domain.OutcomeRouted:
		fmt.Fprintf(tw, "rule\t%d (%s)\n", d.Match.Index, d.Match.Rule.Source)
		fmt.Fprintf(tw, "remainder\t%q\n", d.Match.Remainder)
		fmt.Fprintf(tw, "target\t%s\n", d.Match.Target)
	}
	return tw.Flush()
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the process configuration and rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			spec, err := config.LoadRuleSetSpec(cfg.Proxy.RulesFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range spec.Warnings() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "%s: %d rules, %d security headers, %d blocked extensions, hotlink protection %s\n",
				cfg.Proxy.RulesFile,
				len(spec.Rules),
				len(spec.Security.Headers),
				len(spec.Security.BlockedExtensions),
				enabledString(spec.Security.HotlinkProtection.Enabled),
			)
			return nil
		},
	}
}

func enabledString(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
