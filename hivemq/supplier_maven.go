package hivemq

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// MavenSupplier builds a HiveMQ extension with mvn and supplies the unpacked
// distribution.
type MavenSupplier struct {
	PomFile string
	// CleanBefore runs "clean package" instead of "package".
	CleanBefore bool
	// CleanAfter runs "clean" once the distribution is unpacked.
	CleanAfter bool
	Quiet      bool
	Logger     *slog.Logger

	runner commandRunner
}

// MavenDirect supplies the extension built by the Maven project in the
// working directory.
func MavenDirect() *MavenSupplier {
	return &MavenSupplier{PomFile: "pom.xml"}
}

type pomModel struct {
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Parent     struct {
		Version string `xml:"version"`
	} `xml:"parent"`
}

// readPom returns the artifact id and version declared by the pom. The version
// is inherited from the parent when the project omits it.
func readPom(p string) (artifactID, version string, err error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	var pom pomModel
	if err := xml.Unmarshal(data, &pom); err != nil {
		return "", "", fmt.Errorf("failed to parse %s: %w", p, err)
	}

	artifactID = strings.TrimSpace(pom.ArtifactID)
	version = strings.TrimSpace(pom.Version)
	if version == "" {
		version = strings.TrimSpace(pom.Parent.Version)
	}
	if artifactID == "" || version == "" {
		return "", "", fmt.Errorf("%w: %s declares no artifactId or version", ErrInvalidExtension, p)
	}
	return artifactID, version, nil
}

// Supply packages the project and unpacks target/<artifactId>-<version>-distribution.zip.
func (s *MavenSupplier) Supply(ctx context.Context) (string, error) {
	if err := requireReadable(s.PomFile); err != nil {
		return "", err
	}
	artifactID, version, err := readPom(s.PomFile)
	if err != nil {
		return "", err
	}

	projectDir := filepath.Dir(s.PomFile)
	pom := filepath.Base(s.PomFile)
	runner := runnerOrDefault(s.runner)
	log := supplierLogger(s.Logger, "maven")

	args := []string{"-B", "-f", pom}
	if s.CleanBefore {
		args = append(args, "clean")
	}
	args = append(args, "package")

	log.Info("embedded maven build started",
		logger.String("pom", s.PomFile),
		logger.String("goals", strings.Join(args[3:], " ")))
	if err := runner.run(ctx, projectDir, s.Quiet, "mvn", args...); err != nil {
		return "", buildFailed("maven", artifactID, err)
	}

	archive := filepath.Join(projectDir, "target", artifactID+"-"+version+"-distribution.zip")
	dir, err := unpackExtension(archive, artifactID)
	if err != nil {
		return "", buildFailed("maven", artifactID, err)
	}

	if s.CleanAfter {
		if err := runner.run(ctx, projectDir, s.Quiet, "mvn", "-B", "-f", pom, "clean"); err != nil {
			log.Warn("mvn clean after packaging failed", logger.Error(err))
		}
	}
	return dir, nil
}
