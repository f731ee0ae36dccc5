package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/bnema/toolshed/internal/domain"
)

var (
	zipLocalHeader = []byte("PK\x03\x04")
	zipEmptyHeader = []byte("PK\x05\x06")
)

// ImportResult describes a directory tree stored in a namespace.
type ImportResult struct {
	Root   domain.BlobLocator
	Length int64
	Files  int
}

// ImportStream stores r as a directory tree. Zip archives are expanded into their
// directory structure; any other payload becomes a single file named fileName.
func ImportStream(ctx context.Context, ns *Namespace, r io.Reader, fileName string) (ImportResult, error) {
	if fileName == "" {
		fileName = domain.DefaultPayloadFileName
	}
	if err := domain.ValidateEntryName(fileName); err != nil {
		return ImportResult{}, err
	}

	spool, err := Spool(ctx, ns.tempDir, r)
	if err != nil {
		return ImportResult{}, err
	}
	defer spool.Close()

	if zr, ok := openZip(spool); ok {
		return importZip(ctx, ns, zr)
	}

	if err := ns.PutSpool(ctx, spool); err != nil {
		return ImportResult{}, err
	}
	root, err := ns.WriteDirectory(ctx, domain.DirectoryNode{
		Files: []domain.FileEntry{{Name: fileName, Locator: spool.Locator, Length: spool.Size}},
	})
	if err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Root: root, Length: spool.Size, Files: 1}, nil
}

func openZip(spool *SpoolFile) (*zip.Reader, bool) {
	if spool.Size < int64(len(zipLocalHeader)) {
		return nil, false
	}
	magic := make([]byte, len(zipLocalHeader))
	if _, err := spool.ReaderAt().ReadAt(magic, 0); err != nil {
		return nil, false
	}
	if !bytes.Equal(magic, zipLocalHeader) && !bytes.Equal(magic, zipEmptyHeader) {
		return nil, false
	}
	zr, err := zip.NewReader(spool.ReaderAt(), spool.Size)
	if err != nil {
		return nil, false
	}
	return zr, true
}

func importZip(ctx context.Context, ns *Namespace, zr *zip.Reader) (ImportResult, error) {
	root := newDirBuilder()
	files := 0

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return ImportResult{}, err
		}
		segs, err := domain.SplitArchivePath(f.Name)
		if err != nil {
			return ImportResult{}, err
		}
		if len(segs) == 0 {
			continue
		}
		if f.FileInfo().IsDir() {
			if _, err := root.dir(segs); err != nil {
				return ImportResult{}, err
			}
			continue
		}

		locator, size, err := writeZipMember(ctx, ns, f)
		if err != nil {
			return ImportResult{}, err
		}
		entry := domain.FileEntry{
			Name:       segs[len(segs)-1],
			Locator:    locator,
			Length:     size,
			Executable: f.Mode()&0o111 != 0,
		}
		if err := root.addFile(segs[:len(segs)-1], entry); err != nil {
			return ImportResult{}, err
		}
		files++
	}

	locator, length, err := root.write(ctx, ns)
	if err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Root: locator, Length: length, Files: files}, nil
}

func writeZipMember(ctx context.Context, ns *Namespace, f *zip.File) (domain.BlobLocator, int64, error) {
	rc, err := f.Open()
	if err != nil {
		return "", 0, fmt.Errorf("%w: open archive member %s: %w", domain.ErrInvalidPath, f.Name, err)
	}
	defer rc.Close()
	return ns.WriteBlob(ctx, rc)
}

type dirBuilder struct {
	dirs  map[string]*dirBuilder
	files map[string]domain.FileEntry
}

func newDirBuilder() *dirBuilder {
	return &dirBuilder{
		dirs:  make(map[string]*dirBuilder),
		files: make(map[string]domain.FileEntry),
	}
}

func (d *dirBuilder) dir(segs []string) (*dirBuilder, error) {
	cur := d
	for _, seg := range segs {
		if _, clash := cur.files[seg]; clash {
			return nil, fmt.Errorf("%w: %q is both a file and a directory", domain.ErrInvalidPath, seg)
		}
		next, ok := cur.dirs[seg]
		if !ok {
			next = newDirBuilder()
			cur.dirs[seg] = next
		}
		cur = next
	}
	return cur, nil
}

func (d *dirBuilder) addFile(parent []string, entry domain.FileEntry) error {
	dir, err := d.dir(parent)
	if err != nil {
		return err
	}
	if _, clash := dir.dirs[entry.Name]; clash {
		return fmt.Errorf("%w: %q is both a file and a directory", domain.ErrInvalidPath, entry.Name)
	}
	if _, dup := dir.files[entry.Name]; dup {
		return fmt.Errorf("%w: duplicate archive member %q", domain.ErrInvalidPath, entry.Name)
	}
	dir.files[entry.Name] = entry
	return nil
}

// write stores the subtree bottom-up and returns the node locator and total length.
func (d *dirBuilder) write(ctx context.Context, ns *Namespace) (domain.BlobLocator, int64, error) {
	var node domain.DirectoryNode

	names := make([]string, 0, len(d.dirs))
	for name := range d.dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		locator, length, err := d.dirs[name].write(ctx, ns)
		if err != nil {
			return "", 0, err
		}
		node.Directories = append(node.Directories, domain.DirectoryEntry{Name: name, Locator: locator, Length: length})
	}
	for _, f := range d.files {
		node.Files = append(node.Files, f)
	}

	locator, err := ns.WriteDirectory(ctx, node)
	if err != nil {
		return "", 0, err
	}
	return locator, node.Length(), nil
}
