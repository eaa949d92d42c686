package hivemq

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
)

const (
	descriptorFile = "hivemq-extension.xml"
	extensionJar   = "extension.jar"
)

// Extension describes a HiveMQ extension to package and deploy into the
// container. The extension code itself is a pre-built jar.
type Extension struct {
	ID                string          `yaml:"id" mapstructure:"id"`
	Name              string          `yaml:"name" mapstructure:"name"`
	Version           string          `yaml:"version" mapstructure:"version"`
	Priority          int             `yaml:"priority" mapstructure:"priority"`
	StartPriority     int             `yaml:"start_priority" mapstructure:"start_priority"`
	DisabledOnStartup bool            `yaml:"disabled_on_startup" mapstructure:"disabled_on_startup"`
	JarPath           string          `yaml:"jar" mapstructure:"jar"`
	Files             []ExtensionFile `yaml:"files" mapstructure:"files"`
	Sign              bool            `yaml:"sign" mapstructure:"sign"`

	// Signer signs the packaged jar when Sign is set. Nil means no-op.
	Signer Signer `yaml:"-" mapstructure:"-"`
}

// ExtensionFile is an extra host file placed inside the extension folder.
type ExtensionFile struct {
	Source string `yaml:"source" mapstructure:"source"`
	Target string `yaml:"target" mapstructure:"target"`
}

// Signer signs a packaged extension jar in place.
type Signer interface {
	SignExtension(extensionID string, fs billy.Filesystem, jarPath string) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(extensionID string, fs billy.Filesystem, jarPath string) error

// SignExtension calls f.
func (f SignerFunc) SignExtension(extensionID string, fs billy.Filesystem, jarPath string) error {
	return f(extensionID, fs, jarPath)
}

type extensionDescriptor struct {
	XMLName       xml.Name `xml:"hivemq-extension"`
	ID            string   `xml:"id"`
	Name          string   `xml:"name"`
	Version       string   `xml:"version"`
	Priority      int      `xml:"priority"`
	StartPriority int      `xml:"start-priority"`
}

// Validate checks the mandatory fields and referenced host files.
func (e *Extension) Validate() error {
	switch {
	case e == nil:
		return invalidExtension("extension must not be nil", "")
	case e.ID == "":
		return invalidExtension("extension id must not be empty", "")
	case e.Name == "":
		return invalidExtension("extension name must not be empty", e.ID)
	case e.Version == "":
		return invalidExtension("extension version must not be empty", e.ID)
	}
	if e.JarPath != "" {
		if err := requireFile(e.JarPath); err != nil {
			return err
		}
	}
	for _, f := range e.Files {
		if f.Target == "" {
			return invalidExtension("extension file target must not be empty", e.ID)
		}
		if err := requireFile(f.Source); err != nil {
			return err
		}
	}
	return nil
}

func invalidExtension(msg, id string) error {
	return errors.Newf("%w: %s", ErrInvalidExtension, msg).
		Component(component).
		Category(errors.CategoryValidation).
		Context("extension_id", id).
		Build()
}

// Descriptor renders hivemq-extension.xml.
func (e *Extension) Descriptor() ([]byte, error) {
	out, err := xml.MarshalIndent(extensionDescriptor{
		ID:            e.ID,
		Name:          e.Name,
		Version:       e.Version,
		Priority:      e.Priority,
		StartPriority: e.StartPriority,
	}, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to render extension descriptor: %w", err)
	}
	return append(out, '\n'), nil
}

// Package writes the extension folder <id>/ into fs: the descriptor, the jar,
// extra files and, when disabled on startup, the DISABLED marker.
func (e *Extension) Package(fs billy.Filesystem) error {
	if err := e.Validate(); err != nil {
		return err
	}

	if err := fs.MkdirAll(e.ID, 0o755); err != nil {
		return fmt.Errorf("failed to create extension folder: %w", err)
	}

	descriptor, err := e.Descriptor()
	if err != nil {
		return err
	}
	if err := util.WriteFile(fs, path.Join(e.ID, descriptorFile), descriptor, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", descriptorFile, err)
	}

	if e.DisabledOnStartup {
		if err := util.WriteFile(fs, path.Join(e.ID, disabledMarker), nil, 0o644); err != nil {
			return fmt.Errorf("failed to write %s marker: %w", disabledMarker, err)
		}
	}

	jar := path.Join(e.ID, extensionJar)
	if e.JarPath != "" {
		if err := copyHostFile(fs, e.JarPath, jar); err != nil {
			return err
		}
	}

	for _, f := range e.Files {
		if err := copyHostFile(fs, f.Source, path.Join(e.ID, path.Clean("/"+f.Target))); err != nil {
			return err
		}
	}

	if e.Sign && e.JarPath != "" && e.Signer != nil {
		if err := e.Signer.SignExtension(e.ID, fs, jar); err != nil {
			return errors.Newf("failed to sign extension %s: %w", e.ID, err).
				Component(component).
				Category(errors.CategoryBuild).
				Build()
		}
	}

	return nil
}

// PackageToTempDir packages the extension into a fresh temporary directory
// and returns the extension folder and the temporary root to remove later.
func (e *Extension) PackageToTempDir() (dir, root string, err error) {
	root, err = os.MkdirTemp("", "hivemq-extension-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	if err := e.Package(osfs.New(root)); err != nil {
		_ = os.RemoveAll(root)
		return "", "", err
	}
	return filepath.Join(root, e.ID), root, nil
}

// copyHostFile copies a host file into fs at dst, creating parents.
func copyHostFile(fs billy.Filesystem, src, dst string) error {
	//nolint:gosec // G304: path is provided by the test author
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(dst), err)
	}
	out, err := fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// requireFile returns ErrFileNotFound when p does not exist.
func requireFile(p string) error {
	if _, err := os.Stat(p); err != nil {
		return errors.Newf("%w: %s", ErrFileNotFound, p).
			Component(component).
			Category(errors.CategoryFileIO).
			Context("path", p).
			Build()
	}
	return nil
}
