package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/auth"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// buildOnboardCmd creates the "onboard" command: seed the workspace,
// write the initial config, and optionally capture a credential.
func buildOnboardCmd() *cobra.Command {
	var quick bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize the workspace and configuration",
		Long: `Seed the workspace markdown set (IDENTITY.md, USER.md, SOUL.md, ...),
write config.json with defaults, and install the starter skills.

Without --quick, a short guided setup asks for the provider and an
API key.`,
		Example: `  # Guided setup
  nxclaw onboard

  # Non-interactive, defaults only
  nxclaw onboard --quick`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := openWorkspace()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			result, err := workspace.Bootstrap(paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Workspace ready: %s\n", paths.Home)
			if len(result.Created) > 0 {
				fmt.Fprintln(out, "Created:")
				for _, path := range result.Created {
					fmt.Fprintf(out, "  - %s\n", path)
				}
			}

			cfg, err := config.Load(paths)
			if err != nil {
				return err
			}

			if !quick {
				reader := bufio.NewReader(os.Stdin)
				provider := promptString(reader, "LLM provider (anthropic/openai-codex/gemini-cli)", cfg.Provider)
				cfg.Provider = auth.Normalize(provider)

				key := promptString(reader, "API key (blank to skip)", "")
				if key != "" {
					store, err := auth.NewStore(paths)
					if err != nil {
						return err
					}
					if err := store.SetCredential(cfg.Provider, auth.Credential{APIKey: key}); err != nil {
						return err
					}
					fmt.Fprintf(out, "Credential stored for %s\n", cfg.Provider)
				}

				goal := promptString(reader, "Autonomous goal (blank to leave disabled)", "")
				if goal != "" {
					cfg.Autonomous.Enabled = true
					cfg.Autonomous.Goal = goal
				}
			}

			if err := config.Save(paths, cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "Config written: %s\n", paths.ConfigFile())

			mgr, err := skills.NewManager(paths, skillsConfig(cfg))
			if err != nil {
				return err
			}
			created, err := mgr.Bootstrap()
			if err != nil {
				return err
			}
			if len(created) > 0 {
				fmt.Fprintf(out, "Starter skills installed: %s\n", strings.Join(created, ", "))
			}

			fmt.Fprintln(out, "Onboarding complete. Run `nxclaw start`.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&quick, "quick", false, "Skip prompts and use defaults")
	return cmd
}

func promptString(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}
	text, _ := reader.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultValue
	}
	return text
}
