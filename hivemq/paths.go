package hivemq

import (
	"path"
	"path/filepath"
	"strings"
)

// Locations inside the HiveMQ image.
const (
	HomeDir       = "/opt/hivemq"
	ExtensionsDir = HomeDir + "/extensions"
	LicenseDir    = HomeDir + "/license"
	ConfigFile    = HomeDir + "/conf/config.xml"

	// disabledMarker is the file whose presence keeps an extension stopped.
	disabledMarker = "DISABLED"
)

// preparePath normalises a relative container path to have exactly one leading
// and one trailing slash. An empty path and "/" both yield "/".
func preparePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// homePath returns the container path for a file named name placed under
// pathInHome relative to the HiveMQ home.
func homePath(pathInHome, name string) string {
	return HomeDir + preparePath(pathInHome) + name
}

// extensionHomePath returns the sub path of an extension's home relative to
// the HiveMQ home, suitable for homePath.
func extensionHomePath(extensionID, pathInExtensionHome string) string {
	return "/extensions/" + extensionID + preparePath(pathInExtensionHome)
}

// extensionPath returns the container directory of an extension.
func extensionPath(extensionID string) string {
	return path.Join(ExtensionsDir, extensionID)
}

// disabledMarkerPath returns the DISABLED marker path of an extension.
func disabledMarkerPath(extensionID string) string {
	return ExtensionsDir + preparePath(extensionID) + disabledMarker
}

// baseName returns the last element of a host path, ignoring trailing slashes.
func baseName(p string) string {
	return filepath.Base(filepath.Clean(p))
}
