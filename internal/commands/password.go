package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptsworkmagic/ollama-compass/utils"
)

var hashPasswordCmd = &cobra.Command{
	Use:         "hash-password <password>",
	Short:       "Print a bcrypt hash for auth.password_hash",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := utils.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
