// Package objstore keeps the binaries of file resources on local disk,
// one directory per object, served back under a URL prefix.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const DefaultMaxBytes int64 = 50 * 1024 * 1024

var ErrTooLarge = errors.New("file too large")

type Disk struct {
	root     string
	prefix   string
	maxBytes int64
}

// NewDisk stores objects under root and names them prefix/<id>/<name>.
func NewDisk(root, prefix string, maxBytes int64) (*Disk, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	prefix = "/" + strings.Trim(prefix, "/") + "/"
	return &Disk{root: root, prefix: prefix, maxBytes: maxBytes}, nil
}

func (d *Disk) Root() string   { return d.root }
func (d *Disk) Prefix() string { return d.prefix }

func (d *Disk) MaxBytes() int64 { return d.maxBytes }

func (d *Disk) Put(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "attachment"
	}
	id := uuid.NewString()
	dir := filepath.Join(d.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, err
	}

	n, err := io.Copy(out, io.LimitReader(r, d.maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > d.maxBytes {
		err = fmt.Errorf("%w (more than %d bytes)", ErrTooLarge, d.maxBytes)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", 0, err
	}
	return d.prefix + id + "/" + url.PathEscape(name), n, nil
}

// Owns reports whether u names an object of this store.
func (d *Disk) Owns(u string) bool {
	_, ok := d.locate(u)
	return ok
}

// Delete removes the object and its directory. Deleting a missing object
// is not an error.
func (d *Disk) Delete(ctx context.Context, u string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := d.locate(u)
	if !ok {
		return fmt.Errorf("url %q is outside the storage area", u)
	}
	if err := os.RemoveAll(filepath.Dir(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// locate maps prefix/<id>/<name> to its path on disk.
func (d *Disk) locate(u string) (string, bool) {
	rest, ok := strings.CutPrefix(u, d.prefix)
	if !ok {
		return "", false
	}
	id, escaped, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	name, err := url.PathUnescape(escaped)
	if err != nil || name == "" || name != path.Base(name) || name == ".." {
		return "", false
	}
	return filepath.Join(d.root, id, name), true
}
