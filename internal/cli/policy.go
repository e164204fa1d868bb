package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage policy documents",
	Long: `List, import and delete the policy documents debates are run on.

Examples:
  debate policy list
  debate policy import ./policies/water-act.md
  debate policy delete water-act`,
}

var policyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available policies",
	Args:    cobra.NoArgs,
	RunE:    runPolicyList,
}

var policyImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import Markdown policy documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPolicyImport,
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <policy-id>",
	Short: "Delete an imported policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyDelete,
}

func init() {
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyImportCmd)
	policyCmd.AddCommand(policyDeleteCmd)
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	policies, err := apiClient.ListPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if len(policies) == 0 {
		fmt.Println("No policies found.")
		return nil
	}

	for _, p := range policies {
		fmt.Printf("%-28s %-40s [%s]\n", p.ID, p.Title, p.Origin)
	}
	return nil
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var failed int
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			warnf("read %s: %v", path, err)
			failed++
			continue
		}

		summary, err := apiClient.ImportPolicy(ctx, filepath.Base(path), string(content))
		if err != nil {
			warnf("import %s: %v", path, err)
			failed++
			continue
		}
		fmt.Printf("Imported %s as %s (%s)\n", path, summary.ID, summary.Title)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, len(args))
	}
	return nil
}

func runPolicyDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := apiClient.DeletePolicy(ctx, args[0]); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	fmt.Printf("Deleted policy %s\n", args[0])
	return nil
}
