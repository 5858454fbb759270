package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
	SourceS3   SourceKind = "s3"
)

// Source names one input document. Path is a filesystem path, an http(s)
// URL or an S3 object key depending on Kind.
//
// The content is retrieved via the associated Loader.
type Source struct {
	Kind   SourceKind
	Path   string
	Loader Loader
}

// NewFileSource creates a Source for a local file.
func NewFileSource(path string, l Loader) Source {
	return Source{Kind: SourceFile, Path: path, Loader: l}
}

// NewURLSource creates a Source for a web page.
func NewURLSource(url string, l Loader) Source {
	return Source{Kind: SourceURL, Path: url, Loader: l}
}

// NewS3Source creates a Source for an object in the configured bucket.
func NewS3Source(key string, l Loader) Source {
	return Source{Kind: SourceS3, Path: key, Loader: l}
}

// GetText retrieves the document text using the Source's Loader and
// normalizes it for ingestion.
//
// Example:
//
//	src := loader.NewFileSource("notes/aspirin.txt", io.NewLoader())
//	text, err := src.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report, err := engine.Insert(ctx, text)
func (s *Source) GetText(ctx context.Context) (string, error) {
	b, err := s.Loader.GetFileText(ctx, *s)
	if err != nil {
		return "", err
	}
	return NormalizeText(string(b)), nil
}

// Loader defines the interface for loading the raw bytes of a Source.
// Implementations may load from disk, the web, or object storage.
type Loader interface {
	GetFileText(ctx context.Context, src Source) ([]byte, error)
}

// CacheKey generates a unique cache key for a Source based on its kind and
// path.
func CacheKey(src Source) string {
	return string(src.Kind) + ":" + src.Path
}

// NormalizeText drops invalid UTF-8 and NUL bytes, a leading byte order
// mark and carriage returns.
func NormalizeText(value string) string {
	if value == "" {
		return value
	}
	value = strings.ToValidUTF8(value, "")
	value = strings.ReplaceAll(value, "\x00", "")
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(value, "\r", "\n")
}

// ErrNoLoader is returned by Set.Load when no loader is configured for the
// requested kind.
var ErrNoLoader = errors.New("no loader configured")

// Set routes sources to the loader for their kind. Nil members are
// unsupported.
type Set struct {
	File Loader
	Web  Loader
	S3   Loader
}

// Load builds a Source of the given kind and returns its normalized text.
func (s Set) Load(ctx context.Context, kind SourceKind, path string) (string, error) {
	var l Loader
	switch kind {
	case SourceFile:
		l = s.File
	case SourceURL:
		l = s.Web
	case SourceS3:
		l = s.S3
	default:
		return "", fmt.Errorf("unknown source kind %q", kind)
	}
	if l == nil {
		return "", fmt.Errorf("%w for %s sources", ErrNoLoader, kind)
	}
	src := Source{Kind: kind, Path: path, Loader: l}
	return src.GetText(ctx)
}
