package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/agentdbg/internal/config"
)

type configureOptions struct {
	path     string
	apiKey   string
	baseURL  string
	modelID  string
	provider string
}

func newConfigureCmd() *cobra.Command {
	opts := &configureOptions{}
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store model settings in the settings file",
		Long: `configure writes the given model settings to ~/.agentdbg.yaml.
Settings that are not given keep their stored value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd.OutOrStdout(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.path, "config", "", "settings file (default ~/.agentdbg.yaml)")
	f.StringVar(&opts.apiKey, "api-key", "", "API key of the model service")
	f.StringVar(&opts.baseURL, "base-url", "", "base URL of an OpenAI-compatible endpoint")
	f.StringVar(&opts.modelID, "model-id", "", "model identifier")
	f.StringVar(&opts.provider, "provider", "", "model provider: openai, gemini or dummy")
	return cmd
}

func runConfigure(out io.Writer, opts *configureOptions) error {
	path := opts.path
	if path == "" {
		path = config.DefaultPath()
	}

	existing := false
	cfg, err := config.LoadFile(path)
	switch {
	case err == nil:
		existing = true
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Config{}
	default:
		fmt.Fprintf(out, "Warning: ignoring unreadable settings (%v)\n", err)
		cfg = config.Config{}
	}

	given := opts.apiKey != "" || opts.baseURL != "" || opts.modelID != "" || opts.provider != ""
	if !given && !existing {
		return &config.Error{Field: "configure", Msg: "nothing to save; pass --api-key, --base-url, --model-id or --provider"}
	}

	report := func(name, value, stored string, secret bool) string {
		switch {
		case value != "":
			return fmt.Sprintf("  %-9s set (%s)", name, display(value, secret))
		case stored != "":
			return fmt.Sprintf("  %-9s retained (%s)", name, display(stored, secret))
		default:
			return fmt.Sprintf("  %-9s not set", name)
		}
	}
	lines := []string{
		report("api_key", opts.apiKey, cfg.APIKey, true),
		report("base_url", opts.baseURL, cfg.BaseURL, false),
		report("model_id", opts.modelID, cfg.ModelID, false),
		report("provider", opts.provider, cfg.Provider, false),
	}

	if opts.apiKey != "" {
		cfg.APIKey = opts.apiKey
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.modelID != "" {
		cfg.ModelID = opts.modelID
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}

	if err := config.SaveFile(path, cfg); err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	fmt.Fprintf(out, "Configuration saved to %s\n", path)
	return nil
}

// display masks all but the last four characters of secrets.
func display(value string, secret bool) string {
	if !secret {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
