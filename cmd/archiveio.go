package cmd

import (
	"os"
	"path/filepath"

	"github.com/prn-tf/coldsnap/internal/archive"
)

// archiveRoot returns the local metadata directory for the single
// archive this configuration addresses (spec.md §6 treats the archive
// as a single rooted tree under --archive-dir).
func archiveRoot() string {
	return cfg.ArchiveDir
}

func openArchive() (*archive.ArchiveSet, error) {
	return archive.LoadArchiveIni(archiveRoot())
}

func volumeDir(a *archive.ArchiveSet, volume string) string {
	return filepath.Join(a.LocalRoot, volume)
}

func createManifestFile(sessionDir string) (*os.File, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(sessionDir, archive.ManifestName))
}
