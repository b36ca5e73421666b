package tasktree

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

var ErrNoObjectStore = errors.New("file storage is not configured")

// Attachments attaches and detaches files and links on tasks and subtasks.
type Attachments struct {
	e *Engine
}

// Upload stores the binary, then records a file resource carrying the
// original name and byte size. If the record cannot be saved the stored
// object is removed again.
func (a *Attachments) Upload(ctx context.Context, taskID, name string, body io.Reader, uploadedBy string) (Resource, error) {
	e := a.e
	if e.objects == nil {
		return Resource{}, ErrNoObjectStore
	}
	if _, ok := e.Store.Task(taskID); !ok {
		return Resource{}, notFound("task", taskID)
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == "/" {
		return Resource{}, invalid("name", "required")
	}

	loc, size, err := e.objects.Put(ctx, name, body)
	if err != nil {
		return Resource{}, &PersistError{Op: "upload_resource", Err: err}
	}
	r := Resource{
		ID:         e.newID(),
		TaskID:     taskID,
		Name:       name,
		Kind:       ResourceFile,
		URL:        loc,
		Size:       size,
		UploadedAt: e.now(),
		UploadedBy: uploadedBy,
	}
	err = e.commit(ctx, "upload_resource",
		func() error { return e.Store.PutResource(r) },
		func(ctx context.Context) error { return e.repo.CreateResource(ctx, r) },
	)
	if err != nil {
		if derr := e.objects.Delete(ctx, loc); derr != nil {
			zap.L().Warn("failed to remove orphaned upload", zap.String("url", loc), zap.Error(derr))
		}
		return Resource{}, err
	}
	return r, nil
}

// Link records a link resource from a user supplied name and URL.
func (a *Attachments) Link(ctx context.Context, taskID, name, rawURL, uploadedBy string) (Resource, error) {
	e := a.e
	if _, ok := e.Store.Task(taskID); !ok {
		return Resource{}, notFound("task", taskID)
	}
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Resource{}, invalid("url", "must be an absolute http(s) URL")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = rawURL
	}
	r := Resource{
		ID:         e.newID(),
		TaskID:     taskID,
		Name:       name,
		Kind:       ResourceLink,
		URL:        rawURL,
		Size:       0,
		UploadedAt: e.now(),
		UploadedBy: uploadedBy,
	}
	err = e.commit(ctx, "link_resource",
		func() error { return e.Store.PutResource(r) },
		func(ctx context.Context) error { return e.repo.CreateResource(ctx, r) },
	)
	if err != nil {
		return Resource{}, err
	}
	return r, nil
}

// Detach removes a resource record and, for files stored in the storage
// area, the underlying object.
func (a *Attachments) Detach(ctx context.Context, resourceID string) error {
	e := a.e
	r, ok := e.Store.Resource(resourceID)
	if !ok {
		return notFound("resource", resourceID)
	}
	err := e.commit(ctx, "delete_resource",
		func() error { e.Store.RemoveResource(r.ID); return nil },
		func(ctx context.Context) error { return e.repo.DeleteResource(ctx, r.ID) },
	)
	if err != nil {
		return err
	}
	a.releaseObjects(ctx, []Resource{r})
	return nil
}

// releaseObjects deletes the stored objects behind already deleted file
// records. Failures are logged only; the records are gone either way.
// Duplicated resources share their object with the original, so an object
// still referenced by a live resource is kept.
func (a *Attachments) releaseObjects(ctx context.Context, gone []Resource) {
	e := a.e
	if e.objects == nil {
		return
	}
	live := e.liveURLs()
	for _, r := range gone {
		if r.Kind != ResourceFile || !e.objects.Owns(r.URL) || live[r.URL] {
			continue
		}
		if err := e.objects.Delete(ctx, r.URL); err != nil {
			zap.L().Warn("failed to remove stored object",
				zap.String("resource", r.ID), zap.String("url", r.URL), zap.Error(err))
			continue
		}
		live[r.URL] = true
	}
}

func (e *Engine) liveURLs() map[string]bool {
	e.Store.mu.RLock()
	defer e.Store.mu.RUnlock()
	out := make(map[string]bool, len(e.Store.resources))
	for _, r := range e.Store.resources {
		out[r.URL] = true
	}
	return out
}
