package models

// DownloadType tells the mirror how a localized file descriptor must be presented.
type DownloadType string

const (
	// DownloadImage descriptors are presented as a bare local URI.
	DownloadImage DownloadType = "image"
	// DownloadURL descriptors keep their shape with the url sub-key rewritten.
	DownloadURL DownloadType = "url"
	// DownloadAttachment descriptors live under the Attachment folder.
	DownloadAttachment DownloadType = "attachment"
)

// Valid reports whether d is one of the known download types.
func (d DownloadType) Valid() bool {
	switch d {
	case DownloadImage, DownloadURL, DownloadAttachment:
		return true
	}
	return false
}

const (
	// DownloadTypeKey is the marker key written into localized descriptors.
	DownloadTypeKey = "__download_type"
	// LegacyDownloadTypeKey is accepted on read.
	LegacyDownloadTypeKey = "download_type"
	// LocalPathKey holds the path relative to the owning entity type folder.
	LocalPathKey = "local_path"
)

// FileDescriptor is a view over a descriptor map. Mutations go through the
// underlying Map so every record sharing it observes them.
type FileDescriptor struct {
	URL          string
	Name         string
	DownloadType DownloadType
	LocalPath    string

	m *Map
}

// FileDescriptor interprets v as a localized file descriptor: a map carrying a
// download type marker.
func (v Value) FileDescriptor() (FileDescriptor, bool) {
	m, ok := v.AsMap()
	if !ok {
		return FileDescriptor{}, false
	}
	return DescriptorOf(m)
}

// DescriptorOf interprets m as a localized file descriptor.
func DescriptorOf(m *Map) (FileDescriptor, bool) {
	raw, ok := m.Value(DownloadTypeKey).AsString()
	if !ok {
		raw, ok = m.Value(LegacyDownloadTypeKey).AsString()
	}
	if !ok || !DownloadType(raw).Valid() {
		return FileDescriptor{}, false
	}
	fd := FileDescriptor{DownloadType: DownloadType(raw), m: m}
	fd.URL, _ = m.Value("url").AsString()
	fd.Name, _ = m.Value("name").AsString()
	fd.LocalPath, _ = m.Value(LocalPathKey).AsString()
	return fd, true
}

// Map returns the underlying descriptor map.
func (fd FileDescriptor) Map() *Map { return fd.m }

// NewImageDescriptor wraps a bare image URL, as returned for image fields, into a descriptor map.
func NewImageDescriptor(url, name string) *Map {
	m := NewMap()
	m.Set("url", String(url))
	m.Set("name", String(name))
	m.Set(DownloadTypeKey, String(string(DownloadImage)))
	return m
}

// MarkLocalized sets the download type and local path on a descriptor map.
// An existing local_path is kept when localPath is empty.
func MarkLocalized(m *Map, dt DownloadType, localPath string) {
	m.Set(DownloadTypeKey, String(string(dt)))
	if localPath != "" || !m.Has(LocalPathKey) {
		m.Set(LocalPathKey, String(localPath))
	}
}
