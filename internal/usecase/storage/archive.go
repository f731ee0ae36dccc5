package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/bnema/toolshed/internal/domain"
)

// OpenZip streams the tree rooted at root as a zip archive. Directory nodes are
// resolved one at a time while the archive is read; closing the reader early
// stops the walk.
func OpenZip(ctx context.Context, ns *Namespace, root domain.BlobLocator) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(WriteZip(ctx, ns, root, pw))
	}()
	return pr
}

// WriteZip writes the tree rooted at root into w as a zip archive, depth-first.
func WriteZip(ctx context.Context, ns *Namespace, root domain.BlobLocator, w io.Writer) error {
	zw := zip.NewWriter(w)
	if err := writeZipDir(ctx, ns, zw, root, ""); err != nil {
		return err
	}
	return zw.Close()
}

func writeZipDir(ctx context.Context, ns *Namespace, zw *zip.Writer, locator domain.BlobLocator, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	node, err := ns.DirectoryRef(locator).Resolve(ctx)
	if err != nil {
		return err
	}

	for _, f := range node.Files {
		if err := writeZipFile(ctx, ns, zw, f, prefix); err != nil {
			return err
		}
	}
	for _, d := range node.Directories {
		hdr := &zip.FileHeader{Name: prefix + d.Name + "/"}
		hdr.SetMode(os.ModeDir | 0o755)
		if _, err := zw.CreateHeader(hdr); err != nil {
			return err
		}
		if err := writeZipDir(ctx, ns, zw, d.Locator, prefix+d.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}

func writeZipFile(ctx context.Context, ns *Namespace, zw *zip.Writer, f domain.FileEntry, prefix string) error {
	hdr := &zip.FileHeader{Name: prefix + f.Name, Method: zip.Deflate}
	if f.Executable {
		hdr.SetMode(0o755)
	} else {
		hdr.SetMode(0o644)
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	rc, err := ns.OpenBlob(ctx, f.Locator)
	if err != nil {
		return err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return err
	}
	if n != f.Length {
		return fmt.Errorf("%w: %s%s has %d bytes, node records %d", domain.ErrCorrupt, prefix, f.Name, n, f.Length)
	}
	return nil
}
