package kvadrere

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

type Scheme uint8

const (
	UnknownScheme Scheme = iota
	FileScheme
	S3Scheme
)

var _ fmt.Stringer = UnknownScheme

var schemeStrings = map[Scheme]string{
	FileScheme:    "file",
	S3Scheme:      "s3",
	UnknownScheme: "unknown",
}

func (s Scheme) String() string {
	return schemeStrings[s]
}

// URI locates an input object, either a local file or an S3 object.
type URI struct {
	host   string
	path   string
	scheme Scheme
}

// Host is the bucket of an S3 URI and empty for files.
func (u *URI) Host() string {
	return u.host
}

// Path is the file path, or the object key of an S3 URI.
func (u *URI) Path() string {
	return u.path
}

func (u *URI) Scheme() Scheme {
	return u.scheme
}

func (u *URI) String() string {
	if u.scheme == S3Scheme {
		return fmt.Sprintf("s3://%s/%s", u.host, u.path)
	}
	return u.path
}

// ParseURI parses raw into a URI. Inputs without scheme are files.
func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("parsing URI: empty input")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing URI %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return &URI{path: filepath.Clean(raw), scheme: FileScheme}, nil
	case "file":
		return &URI{path: filepath.Clean(filepath.FromSlash(filepath.Join(u.Host, u.Path))), scheme: FileScheme}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("parsing URI %q: s3 URI needs bucket and key", raw)
		}
		return &URI{host: u.Host, path: key, scheme: S3Scheme}, nil
	default:
		return nil, fmt.Errorf("unsupported URI scheme %q", u.Scheme)
	}
}
