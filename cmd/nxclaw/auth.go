package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/auth"
)

// buildAuthCmd creates the "auth" command: store, inspect, and default
// provider credentials.
func buildAuthCmd() *cobra.Command {
	var (
		provider   string
		apiKey     string
		baseURL    string
		model      string
		status     bool
		setDefault bool
		remove     bool
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
		Long: `Store API credentials for model providers.

Supported providers: anthropic, openai-codex, gemini-cli.
Environment keys (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY)
always take precedence over stored credentials.`,
		Example: `  # Store an Anthropic key (prompted if --api-key is omitted)
  nxclaw auth --provider anthropic --api-key sk-ant-...

  # Show credential status
  nxclaw auth --status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := openWorkspace()
			if err != nil {
				return err
			}
			store, err := auth.NewStore(paths)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if status {
				fmt.Fprintln(out, "Provider credentials:")
				for _, st := range store.Status() {
					line := fmt.Sprintf("  %-13s", st.Provider)
					if st.Configured {
						line += fmt.Sprintf(" configured (%s)", st.Source)
					} else {
						line += " not configured"
					}
					if st.Default {
						line += " [default]"
					}
					fmt.Fprintln(out, line)
				}
				return nil
			}

			name := auth.Normalize(provider)
			if remove {
				if err := store.RemoveCredential(name); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed credential for %s\n", name)
				return nil
			}

			if setDefault && apiKey == "" {
				if err := store.SetDefault(name); err != nil {
					return err
				}
				fmt.Fprintf(out, "Default provider set: %s\n", name)
				return nil
			}

			key := strings.TrimSpace(apiKey)
			if key == "" {
				fmt.Fprintf(out, "API key for %s: ", name)
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return fmt.Errorf("an API key is required (or use --status)")
			}

			if err := store.SetCredential(name, auth.Credential{
				APIKey:  key,
				BaseURL: baseURL,
				Model:   model,
			}); err != nil {
				return err
			}
			if setDefault {
				if err := store.SetDefault(name); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Credential stored for %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "anthropic", "Provider (anthropic, openai-codex, gemini-cli)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (prompted when omitted)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the provider API base URL")
	cmd.Flags().StringVar(&model, "model", "", "Preferred model for this credential")
	cmd.Flags().BoolVar(&status, "status", false, "Show credential status and exit")
	cmd.Flags().BoolVar(&setDefault, "default", false, "Set this provider as the default")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the stored credential")
	return cmd
}
