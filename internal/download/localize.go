package download

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// SanitizeName replaces path separators so a remote file name is safe as one path element.
func SanitizeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}

// LocalizeField turns rec[field] into a localized descriptor and submits its payload
// to <dir>/files/<field>/<name>. A bare URL string becomes an image descriptor named
// after the last URL path element; a descriptor map is marked as a url download unless
// it already carries a download type, so localizing a field twice changes nothing. The
// descriptor's local_path is relative to dir. Empty values are left alone.
func (s *Scheduler) LocalizeField(ctx context.Context, rec models.Record, field, dir string) (Status, error) {
	v := rec.Value(field)
	id, _ := rec.ID()

	var (
		desc *models.Map
		dt   models.DownloadType
		src  string
		name string
		hasN bool
	)
	if raw, ok := v.AsString(); ok {
		if raw == "" {
			return StatusDisabled, nil
		}
		src = raw
		name, hasN = path.Base(urlPath(raw)), true
		desc = models.NewImageDescriptor(raw, name)
		rec.Set(field, models.MapValue(desc))
		dt = models.DownloadImage
	} else if m, ok := v.AsMap(); ok {
		u, ok := m.Value("url").AsString()
		if !ok || u == "" {
			return StatusDisabled, nil
		}
		src, desc, dt = u, m, models.DownloadURL
		if fd, ok := models.DescriptorOf(m); ok {
			dt = fd.DownloadType
		}
		name, hasN = m.Value("name").AsString()
	} else {
		return StatusDisabled, nil
	}

	fileName := strconv.FormatInt(id, 10)
	if hasN {
		fileName = fmt.Sprintf("%d-%s", id, SanitizeName(name))
	}
	local := path.Join("files", field, fileName)
	models.MarkLocalized(desc, dt, local)

	return s.Submit(ctx, Task{
		URL:   src,
		Dest:  filepath.Join(dir, filepath.FromSlash(local)),
		Owner: fmt.Sprintf("%s:%d:%s", rec.Type(), id, field),
	})
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
