package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/skills"
)

// buildSkillsCmd creates the "skills" command group.
func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills (SKILL.md-based)",
		Long: `Manage skills that extend the agent's prompt context.

Each skill is a directory containing a SKILL.md file with YAML
frontmatter (name, description, optional emoji/homepage/version).
Installed skills live under <workspace>/skills/.`,
	}
	cmd.AddCommand(
		buildSkillsCatalogCmd(),
		buildSkillsListCmd(),
		buildSkillsInstallCmd(),
		buildSkillsBootstrapCmd(),
		buildSkillsEnableCmd(),
		buildSkillsDisableCmd(),
		buildSkillsShowCmd(),
		buildSkillsRemoveCmd(),
	)
	return cmd
}

func openSkillsManager() (*skills.Manager, error) {
	paths, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return skills.NewManager(paths, skillsConfig(cfg))
}

func printSkillLine(cmd *cobra.Command, sk *skills.Skill) {
	emoji := ""
	if sk.Emoji != "" {
		emoji = sk.Emoji + " "
	}
	state := "disabled"
	if sk.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %s%s (%s)\n", emoji, sk.Name, state)
	if sk.Description != "" {
		desc := sk.Description
		if len(desc) > 72 {
			desc = desc[:69] + "..."
		}
		fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", desc)
	}
}

func buildSkillsCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List every discoverable skill, installed or not",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			catalog := mgr.Catalog()
			if len(catalog) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skills found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Skill catalog:")
			for _, sk := range catalog {
				printSkillLine(cmd, sk)
			}
			return nil
		},
	}
}

func buildSkillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			installed := mgr.List()
			if len(installed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skills installed. Try `nxclaw skills bootstrap`.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Installed skills:")
			for _, sk := range installed {
				printSkillLine(cmd, sk)
			}
			return nil
		},
	}
}

func buildSkillsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <dir>",
		Short: "Install a skill from a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			sk, err := mgr.Install(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed skill: %s\n", sk.Name)
			return nil
		},
	}
}

func buildSkillsBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Install the starter skill set",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			created, err := mgr.Bootstrap()
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Starter skills already installed.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed: %s\n", strings.Join(created, ", "))
			return nil
		},
	}
}

func buildSkillsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			if err := mgr.Enable(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enabled skill: %s\n", args[0])
			return nil
		},
	}
}

func buildSkillsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			if err := mgr.Disable(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disabled skill: %s\n", args[0])
			return nil
		},
	}
}

func buildSkillsShowCmd() *cobra.Command {
	var showContent bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show skill details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			sk, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Skill: %s\n", sk.Name)
			if sk.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", sk.Description)
			}
			if sk.Homepage != "" {
				fmt.Fprintf(out, "Homepage: %s\n", sk.Homepage)
			}
			if sk.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", sk.Version)
			}
			fmt.Fprintf(out, "Directory: %s\n", sk.Dir)
			fmt.Fprintf(out, "Enabled: %v\n", sk.Enabled)
			if showContent {
				fmt.Fprintln(out, strings.Repeat("-", 40))
				fmt.Fprintln(out, sk.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showContent, "content", false, "Show the full SKILL.md body")
	return cmd
}

func buildSkillsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openSkillsManager()
			if err != nil {
				return err
			}
			if err := mgr.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed skill: %s\n", args[0])
			return nil
		},
	}
}
