package hivemq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name    string
	content string
	mode    os.FileMode
}

// writeZip creates an archive at p holding entries. Names ending in "/" are
// directories.
func writeZip(t *testing.T, p string, entries ...zipEntry) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))

	f, err := os.Create(p)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		if e.name[len(e.name)-1] == '/' {
			mode |= os.ModeDir
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if e.content != "" {
			_, err = w.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
}

func TestExtractZip(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "ext.zip")
	writeZip(t, archive,
		zipEntry{name: "my-extension/"},
		zipEntry{name: "my-extension/hivemq-extension.xml", content: "<hivemq-extension/>"},
		zipEntry{name: "my-extension/my-extension.jar", content: "jar", mode: 0o755},
		zipEntry{name: "my-extension/conf/config.xml", content: "<config/>"},
	)

	fs := memfs.New()
	require.NoError(t, extractZip(archive, fs))

	data, err := util.ReadFile(fs, "my-extension/hivemq-extension.xml")
	require.NoError(t, err)
	assert.Equal(t, "<hivemq-extension/>", string(data))

	data, err = util.ReadFile(fs, "my-extension/conf/config.xml")
	require.NoError(t, err)
	assert.Equal(t, "<config/>", string(data))

	info, err := fs.Stat("my-extension/conf")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractZip_RejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"../evil.sh", "a/../../evil.sh", "/etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			archive := filepath.Join(t.TempDir(), "evil.zip")
			writeZip(t, archive, zipEntry{name: name, content: "x"})

			fs := memfs.New()
			require.Error(t, extractZip(archive, fs))
			_, err := fs.Stat("evil.sh")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestExtractZip_MissingArchive(t *testing.T) {
	t.Parallel()

	err := extractZip(filepath.Join(t.TempDir(), "missing.zip"), memfs.New())
	assert.Error(t, err)
}

func TestSafeEntryName(t *testing.T) {
	t.Parallel()

	name, err := safeEntryName("ext/./conf//config.xml")
	require.NoError(t, err)
	assert.Equal(t, "ext/conf/config.xml", name)

	name, err = safeEntryName(`ext\lib\a.jar`)
	require.NoError(t, err)
	assert.Equal(t, "ext/lib/a.jar", name)

	_, err = safeEntryName("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidExtension)
}
