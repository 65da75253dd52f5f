package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/ui"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Inspect and validate mapping definitions",
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mappings, err := a.repo.ListMappings(cmd.Context())
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			fmt.Println(ui.RenderMuted("no mappings in " + a.cfg.MappingsDir))
			return nil
		}
		for _, m := range mappings {
			line := fmt.Sprintf("%-24s %s → %s  %d tables",
				m.ID, m.SourceServer, m.TargetServer, len(m.TableConfigs))
			var tags []string
			if m.Consecutive.Enabled {
				if m.Consecutive.UseCentralizedService {
					tags = append(tags, "consecutive:central")
				} else {
					tags = append(tags, "consecutive:local")
				}
			}
			if m.HasBonificationProcessing {
				tags = append(tags, "bonification")
			}
			if len(tags) > 0 {
				line += "  " + ui.RenderMuted(fmt.Sprint(tags))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var mappingValidateCmd = &cobra.Command{
	Use:   "validate [mapping-id]",
	Short: "Validate every loaded mapping, or one by id",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mappings, err := a.repo.ListMappings(cmd.Context())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			m, err := a.repo.FindMapping(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			mappings = mappings[:0]
			mappings = append(mappings, m)
		}

		failures := 0
		for _, m := range mappings {
			if err := m.Validate(); err != nil {
				failures++
				fmt.Printf("%s %s: %v\n", ui.RenderFail(ui.IconFail), m.ID, err)
				continue
			}
			fmt.Printf("%s %s\n", ui.RenderPass(ui.IconPass), m.ID)
		}
		if failures > 0 {
			return fmt.Errorf("%d invalid mapping(s)", failures)
		}
		return nil
	},
}

func init() {
	mappingCmd.AddCommand(mappingListCmd, mappingValidateCmd)
}
