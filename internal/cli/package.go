package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hivemq/hivemq-testcontainer-go/hivemq"
)

func packageCmd() *cobra.Command {
	var descriptor string
	var outDir string

	c := &cobra.Command{
		Use:   "package",
		Short: "Package an extension described by a YAML file into a deployable folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ext, err := loadExtension(descriptor)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}
			if err := ext.Package(osfs.New(outDir)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(outDir, ext.ID))
			return err
		},
	}

	c.Flags().StringVarP(&descriptor, "descriptor", "d", "extension.yaml", "extension descriptor YAML")
	c.Flags().StringVarP(&outDir, "out", "o", "build/hivemq-extension", "output folder")
	return c
}

// loadExtension reads a descriptor YAML. Host paths inside it are relative to
// the descriptor's folder.
func loadExtension(p string) (*hivemq.Extension, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var ext hivemq.Extension
	if err := yaml.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", p, err)
	}

	base := filepath.Dir(p)
	resolve := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(base, s)
	}
	ext.JarPath = resolve(ext.JarPath)
	for i := range ext.Files {
		ext.Files[i].Source = resolve(ext.Files[i].Source)
	}

	if err := ext.Validate(); err != nil {
		return nil, err
	}
	return &ext, nil
}
