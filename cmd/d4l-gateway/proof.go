package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d4l-network/d4l-gateway/internal/merkle"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

func newProofCommand() *cobra.Command {
	var allowlist string
	cmd := &cobra.Command{
		Use:   "proof [address]",
		Short: "Print the allowlist root, or an address's merkle proof, from a local allowlist file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := merkle.LoadTree(allowlist)
			if err != nil {
				return fmt.Errorf("load allowlist: %w", err)
			}
			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if len(args) == 0 {
				return out.Encode(map[string]any{"root": tree.Root().Hex(), "entries": tree.Len()})
			}
			view, err := service.NewMerkleService(tree).Proof(args[0])
			if err != nil {
				return err
			}
			return out.Encode(view)
		},
	}
	cmd.Flags().StringVar(&allowlist, "allowlist", "allowlist.json", "allowlist JSON file mapping addresses to base-unit amounts")
	return cmd
}
