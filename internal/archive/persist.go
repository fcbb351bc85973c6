package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// On-disk file names, per spec.md §6.
const (
	ArchiveIniName = "archive.ini"
	VolInfoName    = "volinfo"
	VolInfoTmpName = "volinfo-tmp"
	SessionInfoName = "info"
	ManifestName    = "manifest"
)

// SaveArchiveIni writes archive.ini in the "key=value, sections [var]
// and [volumes]" shape spec.md §6 specifies. It also writes a volinfo
// file for every registered volume that does not have one yet, so a
// volume added but never sent loads back.
func SaveArchiveIni(a *ArchiveSet) error {
	f := ini.Empty()

	varSec, err := f.NewSection("var")
	if err != nil {
		return err
	}
	setKV(varSec, "chunk_size", strconv.FormatInt(a.ChunkSize, 10))
	setKV(varSec, "compression_algo", string(a.CompressionAlgo))
	setKV(varSec, "compression_level", strconv.Itoa(a.CompressionLevel))
	setKV(varSec, "hash_algo", a.HashAlgo)
	setKV(varSec, "source_vg", a.SourceVG)
	setKV(varSec, "source_pool", a.SourcePool)
	setKV(varSec, "dest_descriptor", a.DestDescriptor)
	setKV(varSec, "dest_mountpoint", a.DestMountpoint)
	setKV(varSec, "subdir", a.Subdir)
	setKV(varSec, "uuid", a.UUID)

	volSec, err := f.NewSection("volumes")
	if err != nil {
		return err
	}
	for name := range a.Volumes {
		setKV(volSec, name, "1")
	}

	path := filepath.Join(a.LocalRoot, ArchiveIniName)
	if err := os.MkdirAll(a.LocalRoot, 0o755); err != nil {
		return fmt.Errorf("creating archive root: %w", err)
	}
	for name, v := range a.Volumes {
		volDir := filepath.Join(a.LocalRoot, name)
		if _, err := os.Stat(filepath.Join(volDir, VolInfoName)); os.IsNotExist(err) {
			if err := SaveVolInfo(volDir, v, false); err != nil {
				return err
			}
		}
	}
	return f.SaveTo(path)
}

// LoadArchiveIni reads archive.ini, populating an ArchiveSet, and loads
// every volume listed under [volumes] (with its sessions) via LoadVolume.
func LoadArchiveIni(localRoot string) (*ArchiveSet, error) {
	path := filepath.Join(localRoot, ArchiveIniName)
	f, err := ini.Load(path)
	if err != nil {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "loading %s: %v", path, err)
	}

	varSec := f.Section("var")
	a := &ArchiveSet{
		LocalRoot:      localRoot,
		Name:           filepath.Base(localRoot),
		ChunkSize:      varSec.Key("chunk_size").MustInt64(),
		CompressionAlgo: CompressionAlgo(varSec.Key("compression_algo").String()),
		CompressionLevel: varSec.Key("compression_level").MustInt(0),
		HashAlgo:       varSec.Key("hash_algo").MustString(HashAlgoSHA256),
		SourceVG:       varSec.Key("source_vg").String(),
		SourcePool:     varSec.Key("source_pool").String(),
		DestDescriptor: varSec.Key("dest_descriptor").String(),
		DestMountpoint: varSec.Key("dest_mountpoint").String(),
		Subdir:         varSec.Key("subdir").String(),
		UUID:           varSec.Key("uuid").String(),
		Volumes:        make(map[string]*Volume),
	}

	volSec := f.Section("volumes")
	for _, key := range volSec.Keys() {
		v, err := LoadVolume(filepath.Join(localRoot, key.Name()))
		if err != nil {
			return nil, err
		}
		v.Name = key.Name()
		a.Volumes[key.Name()] = v
	}

	return a, nil
}

// SaveVolInfo writes a volume's volinfo file, or volinfo-tmp when tmp
// is true; CommitVolInfo later renames volinfo-tmp over volinfo at
// commit time (spec.md §4.4 step 6).
func SaveVolInfo(volumeDir string, v *Volume, tmp bool) error {
	f := ini.Empty()
	sec, err := f.NewSection("volume")
	if err != nil {
		return err
	}
	setKV(sec, "format_version", strconv.Itoa(v.FormatVersion))
	setKV(sec, "uuid", v.UUID)
	setKV(sec, "first", v.First)
	setKV(sec, "last", v.Last)
	setKV(sec, "queued_meta_update", boolStr(v.QueuedMetaUpdate))

	name := VolInfoName
	if tmp {
		name = VolInfoTmpName
	}
	if err := os.MkdirAll(volumeDir, 0o755); err != nil {
		return fmt.Errorf("creating volume dir: %w", err)
	}
	return f.SaveTo(filepath.Join(volumeDir, name))
}

// CommitVolInfo renames volinfo-tmp -> volinfo, the local mirror of
// the destination helper's rename (spec.md §4.4 step 6).
func CommitVolInfo(volumeDir string) error {
	return os.Rename(filepath.Join(volumeDir, VolInfoTmpName), filepath.Join(volumeDir, VolInfoName))
}

// LoadVolume reads a volume's volinfo and all of its sessions from
// disk.
func LoadVolume(volumeDir string) (*Volume, error) {
	path := filepath.Join(volumeDir, VolInfoName)
	f, err := ini.Load(path)
	if err != nil {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "loading %s: %v", path, err)
	}

	sec := f.Section("volume")
	v := &Volume{
		FormatVersion:    sec.Key("format_version").MustInt(VolumeFormatVersion),
		UUID:             sec.Key("uuid").String(),
		First:            sec.Key("first").String(),
		Last:             sec.Key("last").String(),
		QueuedMetaUpdate: sec.Key("queued_meta_update").MustBool(false),
		Sessions:         make(map[string]*Session),
	}

	entries, err := os.ReadDir(volumeDir)
	if err != nil {
		return nil, fmt.Errorf("listing volume dir %s: %w", volumeDir, err)
	}

	type loaded struct {
		session *Session
	}
	var all []loaded
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) < 2 || entry.Name()[:2] != "S_" {
			continue
		}
		s, err := LoadSession(filepath.Join(volumeDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, loaded{session: s})
	}

	// Order sessions by sequence so SessionOrder reflects the chain.
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].session.Sequence < all[i].session.Sequence {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	for _, l := range all {
		v.Sessions[l.session.Name] = l.session
		v.SessionOrder = append(v.SessionOrder, l.session.Name)
	}
	if !v.IsEmpty() {
		v.CurrentSize = v.LastSession().Volsize
	}

	return v, nil
}

// SaveSessionInfo writes a session's "info" key=value file.
func SaveSessionInfo(sessionDir string, s *Session) error {
	f := ini.Empty()
	sec, err := f.NewSection("session")
	if err != nil {
		return err
	}
	setKV(sec, "localtime", s.Localtime.Format(time.RFC3339))
	setKV(sec, "volsize", strconv.FormatInt(s.Volsize, 10))
	setKV(sec, "format", string(s.Format))
	setKV(sec, "sequence", strconv.FormatInt(s.Sequence, 10))
	setKV(sec, "previous", s.Previous)

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	return f.SaveTo(filepath.Join(sessionDir, SessionInfoName))
}

// LoadSession reads a session's info file and manifest from disk.
func LoadSession(sessionDir string) (*Session, error) {
	infoPath := filepath.Join(sessionDir, SessionInfoName)
	f, err := ini.Load(infoPath)
	if err != nil {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "loading %s: %v", infoPath, err)
	}

	sec := f.Section("session")
	localtime, err := time.Parse(time.RFC3339, sec.Key("localtime").String())
	if err != nil {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "bad localtime in %s: %v", infoPath, err)
	}

	s := &Session{
		Name:      filepath.Base(sessionDir),
		Localtime: localtime,
		Volsize:   sec.Key("volsize").MustInt64(),
		Format:    SessionFormat(sec.Key("format").String()),
		Sequence:  sec.Key("sequence").MustInt64(),
		Previous:  sec.Key("previous").String(),
	}

	manifestPath := filepath.Join(sessionDir, ManifestName)
	mf, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "manifest missing under present session %s", s.Name)
		}
		return nil, fmt.Errorf("opening %s: %w", manifestPath, err)
	}
	defer mf.Close()

	entries, err := ReadManifest(mf)
	if err != nil {
		return nil, err
	}
	s.Manifest = entries

	return s, nil
}

func setKV(sec *ini.Section, key, value string) {
	_, _ = sec.NewKey(key, value)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
