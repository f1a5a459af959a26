package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"esoe-hq/pdp/pkg/cli"
	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/cache"
	"esoe-hq/pdp/pkg/policy/decision"
	dtrace "esoe-hq/pdp/pkg/policy/trace"
)

var decideFlags struct {
	issuer     string
	resource   string
	action     string
	attributes []string
	format     string
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Evaluate one authorization request offline",
	Long: `Load the configured policy store and evaluate a single authorization
request against it, printing the decision and its trace.

The exit status is 0 for PERMIT and 3 for DENY.

Examples:
  pdpd decide --issuer https://spep.example.org/spep --resource /docs/report.pdf

  # Principal attributes may repeat
  pdpd decide --issuer spep --resource /admin --attr uid=alice --attr role=staff --attr role=admin

  # JSON output with the full trace
  pdpd decide --issuer spep --resource /admin --format json`,
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)

	decideCmd.Flags().StringVar(&decideFlags.issuer, "issuer", "", "enforcement point descriptor ID")
	decideCmd.Flags().StringVar(&decideFlags.resource, "resource", "", "requested resource")
	decideCmd.Flags().StringVar(&decideFlags.action, "action", "", "requested action")
	decideCmd.Flags().StringArrayVar(&decideFlags.attributes, "attr", nil, "principal attribute as name=value (repeatable)")
	decideCmd.Flags().StringVarP(&decideFlags.format, "format", "f", "text", "output format (text, json)")
	_ = decideCmd.MarkFlagRequired("resource")
}

// decideResult is printed by the decide command.
type decideResult struct {
	Decision policy.Decision `json:"decision"`
	Trace    dtrace.Summary  `json:"trace"`
}

func (r decideResult) String() string {
	var sb strings.Builder
	sb.WriteString(string(r.Decision))
	if r.Trace.Message != "" {
		fmt.Fprintf(&sb, "\n  %s", r.Trace.Message)
	}
	for _, p := range r.Trace.ProcessedPolicies {
		fmt.Fprintf(&sb, "\n  policy %s: rules %s", p.PolicyID, strings.Join(p.Rules, ", "))
	}
	return sb.String()
}

func runDecide(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(decideFlags.format)
	if err != nil {
		return err
	}
	attrs, err := parseAttributes(decideFlags.attributes)
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	c, err := loadCache(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("decide", err)
	}
	point, err := newPoint(cfg, c, logger)
	if err != nil {
		return cli.NewCommandError("decide", err)
	}

	dd := dtrace.New()
	result := point.Decide(ctx, decision.Request{
		Issuer:     decideFlags.issuer,
		Resource:   decideFlags.resource,
		Action:     decideFlags.action,
		Attributes: attrs,
	}, dd)

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), decideResult{Decision: result, Trace: dd.Summary()}); err != nil {
		return err
	}
	if result == policy.Deny {
		return cli.ErrDenied
	}
	return nil
}

// loadCache reads every policy set from the configured store into a new
// cache.
func loadCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.PolicyCache, error) {
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	sets, err := st.Policies(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	c := cache.New()
	c.PutAll(sets)
	return c, nil
}

// parseAttributes turns repeated name=value flags into an attribute map.
func parseAttributes(pairs []string) (map[string][]string, error) {
	attrs := make(map[string][]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute %q: want name=value", pair)
		}
		attrs[name] = append(attrs[name], value)
	}
	return attrs, nil
}
