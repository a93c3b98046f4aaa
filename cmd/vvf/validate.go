package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/mantonx/vvf/internal/origins/installed"
	"github.com/mantonx/vvf/internal/origins/sideload"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <package-dir|bundle.vvf>",
		Short: "Parse a package manifest or bundle and print its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := validatePath(args[0])
			if err != nil {
				return fmt.Errorf("%s is invalid: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}

func validatePath(path string) (*pluginmodule.ExtensionMetadata, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var meta *pluginmodule.ExtensionMetadata
	if st.IsDir() {
		desc, ok := installed.ReadPackage(path)
		if !ok {
			return nil, fmt.Errorf("no %s, %s or %s found", installed.ManifestCUE, installed.ManifestYAML, installed.ManifestYML)
		}
		meta, err = installed.NewParser().Parse(desc)
	} else {
		meta, err = sideload.NewParser(pluginmodule.OriginSideloadedFile).Parse(sideload.ReadDescriptor(sideload.SourceName, path))
	}
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}
