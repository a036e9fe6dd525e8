package main

import (
	"github.com/spf13/cobra"

	"github.com/rinb-project/winimg/internal/logger"
	"github.com/rinb-project/winimg/internal/orchestrator"
)

var (
	buildConfigPath string
	buildOutPath    string
	buildOutType    string
	buildCachePath  string
)

// createBuildCommand creates the build subcommand: the orchestrator's
// single linear pipeline, driven by --config/--out/--type/--cache-path.
func createBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a Windows installation medium from a configuration file",
		Long: `build resolves the ESD matching --config (or its .lock sidecar, if
present), caches it under --cache-path, rewrites its WIM images into
boot.wim/install.esd plus the extracted base media tree, and packs the
result into --out as the format named by --type (iso|vhd|img).`,
		RunE: executeBuild,
	}

	cmd.Flags().StringVar(&buildConfigPath, "config", "", "path to the build configuration document (required)")
	cmd.Flags().StringVar(&buildOutPath, "out", "", "path to write the output container to (required)")
	cmd.Flags().StringVar(&buildOutType, "type", "iso", "output container type: iso|vhd|img")
	cmd.Flags().StringVar(&buildCachePath, "cache-path", "", "directory to cache downloaded ESD files in (required)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("cache-path")

	return cmd
}

func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	outType, err := orchestrator.ParseOutType(buildOutType)
	if err != nil {
		return err
	}

	opts := orchestrator.Options{
		ConfigPath: buildConfigPath,
		OutPath:    buildOutPath,
		Type:       outType,
		CachePath:  buildCachePath,
	}

	if err := orchestrator.Run(opts); err != nil {
		return err
	}

	log.Infof("wrote %s", buildOutPath)
	return nil
}
