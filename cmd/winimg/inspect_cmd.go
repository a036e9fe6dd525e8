package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rinb-project/winimg/internal/inspect"
)

var (
	inspectFormat string
	inspectPretty bool
	inspectFiles  bool
)

// createInspectCommand creates the inspect subcommand: report the GPT
// partition table and FAT32 contents of a built output container.
func createInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect IMAGE_FILE",
		Short: "Inspect a built disk image's partition table and contents",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch inspectFormat {
			case "text", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", inspectFormat)
			}
		},
		RunE: executeInspect,
	}

	cmd.Flags().StringVar(&inspectFormat, "format", "text", "output format: text|json|yaml")
	cmd.Flags().BoolVar(&inspectPretty, "pretty", false, "pretty-print JSON output")
	cmd.Flags().BoolVar(&inspectFiles, "files", false, "include the full file listing of the first partition")

	return cmd
}

func executeInspect(cmd *cobra.Command, args []string) error {
	summary, err := inspect.Inspect(args[0], inspectFiles)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	return writeInspectSummary(cmd, summary, inspectFormat, inspectPretty)
}

func writeInspectSummary(cmd *cobra.Command, summary *inspect.Summary, format string, pretty bool) error {
	out := cmd.OutOrStdout()

	switch format {
	case "text":
		fmt.Fprintf(out, "%s  sha256=%s  size=%d\n", summary.File, summary.SHA256, summary.SizeBytes)
		fmt.Fprintf(out, "  disk guid: %s  protective mbr: %v\n", summary.DiskGUID, summary.ProtectiveMBR)
		for _, p := range summary.Partitions {
			fmt.Fprintf(out, "  [%d] %-8s %-8s lba %d-%d  %d bytes  %d files\n",
				p.Index, p.Name, p.Filesystem, p.StartLBA, p.EndLBA, p.SizeBytes, p.FileCount)
		}
		for _, f := range summary.Files {
			fmt.Fprintf(out, "    %s\n", f)
		}
		return nil

	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(summary, "", "  ")
		} else {
			b, err = json.Marshal(summary)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	case "yaml":
		b, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, err = fmt.Fprintln(out, string(b))
		return err

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
