package main

import (
	"github.com/spf13/cobra"

	"github.com/rinb-project/winimg/internal/config"
	"github.com/rinb-project/winimg/internal/logger"
)

// createValidateCommand creates the validate subcommand: check a
// configuration document against the schema and its cross-field
// invariants without running the build.
func createValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate CONFIG_FILE",
		Short: "Validate a build configuration file",
		Long: `validate loads CONFIG_FILE, checks it against the embedded JSON Schema,
and checks cross-field invariants (such as sha1size being required whenever
url is set) without downloading anything or running a build.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}
	return cmd
}

func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	path := args[0]

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log.Infof("%s is valid", path)
	log.Infof("  version: %s", cfg.Version)
	log.Infof("  arch:    %s", cfg.Arch)
	log.Infof("  edition: %s", cfg.Edition)
	log.Infof("  lang:    %s", cfg.Lang)
	if sha1, ok := cfg.SHA1(); ok {
		size, _ := cfg.Size()
		log.Infof("  pinned:  %s:%d", sha1, size)
	}
	return nil
}
