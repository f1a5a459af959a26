package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"esoe-hq/pdp/pkg/cli"
	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/store"
)

var policyFlags struct {
	db     string
	format string
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policy documents",
	Long: `Validate policy documents and manage the SQLite policy store.

Subcommands:
  validate - Check policy documents for structural errors
  import   - Load policy documents into the SQLite policy store
  list     - List descriptors in the configured store
  delete   - Remove a descriptor from the SQLite policy store

Examples:
  pdpd policy validate policies/
  pdpd policy import policies/*.yaml --db /var/lib/pdp/policies.db
  pdpd policy list --format json`,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate PATH...",
	Short: "Validate policy documents",
	Long: `Parse and validate policy documents. Directories are searched
recursively for .yaml, .yml, .json and .jsonc files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: validatePolicies,
}

var policyImportCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Import policy documents into the SQLite store",
	Long: `Validate policy documents and store each as the current policy set of
its descriptor. A running daemon picks the change up on its next poll.`,
	Args: cobra.MinimumNArgs(1),
	RunE: importPolicies,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List descriptors in the configured store",
	RunE:  listPolicies,
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete DESCRIPTOR",
	Short: "Remove a descriptor from the SQLite store",
	Args:  cobra.ExactArgs(1),
	RunE:  deletePolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd, policyImportCmd, policyListCmd, policyDeleteCmd)

	policyCmd.PersistentFlags().StringVar(&policyFlags.db, "db", "", "SQLite policy database (default: store.sqlite.path from config)")
	policyCmd.PersistentFlags().StringVarP(&policyFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

// documentReport is one row of validate output.
type documentReport struct {
	Path         string `json:"path"`
	DescriptorID string `json:"descriptor_id,omitempty"`
	Policies     int    `json:"policies"`
	Error        string `json:"error,omitempty"`
}

type documentReports []documentReport

func (r documentReports) Header() []string {
	return []string{"PATH", "DESCRIPTOR", "POLICIES", "STATUS"}
}

func (r documentReports) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, d := range r {
		status := "ok"
		if d.Error != "" {
			status = d.Error
		}
		rows = append(rows, []string{d.Path, d.DescriptorID, strconv.Itoa(d.Policies), status})
	}
	return rows
}

func validatePolicies(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(policyFlags.format)
	if err != nil {
		return err
	}
	paths, err := expandDocuments(args)
	if err != nil {
		return err
	}

	reports, _ := loadDocuments(paths)
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Error != "" {
			return fmt.Errorf("policy validation failed")
		}
	}
	return nil
}

func importPolicies(cmd *cobra.Command, args []string) error {
	paths, err := expandDocuments(args)
	if err != nil {
		return err
	}
	reports, sets := loadDocuments(paths)
	for _, r := range reports {
		if r.Error != "" {
			return fmt.Errorf("%s: %s", r.Path, r.Error)
		}
	}

	st, err := openPolicyDB()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "imported")
	progress.Start(len(sets))
	for i, ps := range sets {
		if err := st.Upsert(ctx, ps); err != nil {
			progress.Fail(paths[i], err)
			return cli.NewCommandError("policy import", fmt.Errorf("%s: %w", paths[i], err))
		}
		progress.Step(ps.DescriptorID)
	}
	progress.Finish()

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d policy sets\n", len(sets))
	return nil
}

// descriptorSummary is one row of list output.
type descriptorSummary struct {
	DescriptorID string   `json:"descriptor_id"`
	Policies     []string `json:"policies"`
}

type descriptorSummaries []descriptorSummary

func (s descriptorSummaries) Header() []string { return []string{"DESCRIPTOR", "POLICIES"} }

func (s descriptorSummaries) Rows() [][]string {
	rows := make([][]string, 0, len(s))
	for _, d := range s {
		rows = append(rows, []string{d.DescriptorID, strconv.Itoa(len(d.Policies))})
	}
	return rows
}

func listPolicies(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(policyFlags.format)
	if err != nil {
		return err
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if policyFlags.db != "" {
		cfg.Store.Backend = "sqlite"
		cfg.Store.SQLite.Path = policyFlags.db
	}
	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sets, err := st.Policies(commandContext(cmd), nil)
	if err != nil {
		return cli.NewCommandError("policy list", err)
	}
	out := make(descriptorSummaries, 0, len(sets))
	for id, policies := range sets {
		ids := make([]string, 0, len(policies))
		for _, p := range policies {
			ids = append(ids, p.ID)
		}
		out = append(out, descriptorSummary{DescriptorID: id, Policies: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DescriptorID < out[j].DescriptorID })
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), out)
}

func deletePolicy(cmd *cobra.Command, args []string) error {
	st, err := openPolicyDB()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(commandContext(cmd), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("descriptor %q is not in the store", args[0])
		}
		return cli.NewCommandError("policy delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted policy set for %s\n", args[0])
	return nil
}

// openPolicyDB opens the SQLite store named by --db or the configuration.
func openPolicyDB() (*store.SQLiteStore, error) {
	path := policyFlags.db
	busy := config.DefaultSQLiteBusyTimeout
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if path == "" {
		cfg, l, err := setup()
		if err != nil {
			return nil, err
		}
		path, busy, logger = cfg.Store.SQLite.Path, cfg.Store.SQLite.BusyTimeout, l
	}
	return store.NewSQLiteStore(store.SQLiteStoreConfig{Path: path, BusyTimeout: busy}, logger)
}

// expandDocuments resolves files and directories to a sorted list of
// policy document paths.
func expandDocuments(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && store.IsDocument(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no policy documents found")
	}
	sort.Strings(paths)
	return paths, nil
}

// loadDocuments parses and validates each document. sets holds only the
// valid documents, in path order.
func loadDocuments(paths []string) (documentReports, []*policy.PolicySet) {
	reports := make(documentReports, 0, len(paths))
	var sets []*policy.PolicySet
	for _, path := range paths {
		r := documentReport{Path: path}
		ps, err := store.LoadDocument(path)
		if err == nil {
			r.DescriptorID = ps.DescriptorID
			r.Policies = len(ps.Policies)
			err = ps.Validate()
		}
		if err != nil {
			r.Error = err.Error()
		} else {
			sets = append(sets, ps)
		}
		reports = append(reports, r)
	}
	return reports, sets
}
