package hivemq

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

const (
	gradleTask    = "hivemqExtensionZip"
	gradleWrapper = "gradlew"
)

// GradleSupplier builds a HiveMQ extension with the project's Gradle wrapper
// and supplies the unpacked distribution.
type GradleSupplier struct {
	// BuildFile is the path of the project's build.gradle or build.gradle.kts.
	BuildFile      string
	ProjectName    string
	ProjectVersion string
	// Quiet suppresses the build's stdout.
	Quiet  bool
	Logger *slog.Logger

	runner commandRunner
}

// GradleDirect supplies the extension built by the Gradle project in the
// working directory.
func GradleDirect(projectName, projectVersion string) *GradleSupplier {
	return &GradleSupplier{
		BuildFile:      "build.gradle",
		ProjectName:    projectName,
		ProjectVersion: projectVersion,
	}
}

// Supply runs the hivemqExtensionZip task and unpacks its output.
func (s *GradleSupplier) Supply(ctx context.Context) (string, error) {
	if err := requireReadable(s.BuildFile); err != nil {
		return "", err
	}

	projectDir := filepath.Dir(s.BuildFile)
	wrapper, err := filepath.Abs(filepath.Join(projectDir, gradleWrapper))
	if err != nil {
		return "", fmt.Errorf("failed to resolve gradle wrapper: %w", err)
	}
	info, err := os.Stat(wrapper)
	if err != nil {
		return "", supplierError(fmt.Sprintf("Gradle Wrapper %s does not exist.", wrapper), wrapper)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", supplierError(fmt.Sprintf("Gradle Wrapper %s can not be executed.", wrapper), wrapper)
	}

	log := supplierLogger(s.Logger, "gradle")
	log.Info("embedded gradle build started", logger.String("build_file", s.BuildFile))

	if err := runnerOrDefault(s.runner).run(ctx, projectDir, s.Quiet, "./"+gradleWrapper, gradleTask); err != nil {
		return "", buildFailed("gradle", s.ProjectName, err)
	}
	log.Info("embedded gradle build stopped", logger.String("build_file", s.BuildFile))

	archive := filepath.Join(projectDir, "build", "hivemq-extension",
		s.ProjectName+"-"+s.ProjectVersion+".zip")
	dir, err := unpackExtension(archive, s.ProjectName)
	if err != nil {
		return "", buildFailed("gradle", s.ProjectName, err)
	}
	return dir, nil
}

// requireReadable checks that p exists and can be opened for reading.
func requireReadable(p string) error {
	if _, err := os.Stat(p); err != nil {
		return supplierError(p+" does not exist.", p)
	}
	f, err := os.Open(p)
	if err != nil {
		return supplierError(p+" is not readable.", p)
	}
	return f.Close()
}

func supplierError(msg, p string) error {
	return errors.Newf("%s", msg).
		Component(component).
		Category(errors.CategoryValidation).
		Context("path", p).
		Build()
}
