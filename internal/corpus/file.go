package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// Format names a corpus file format.
type Format string

const (
	FormatJSONL  Format = "jsonl"
	FormatExport Format = "export"
)

// DetectFormat picks a format from the file extension: .json is an export,
// anything else is JSON Lines.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatExport
	}
	return FormatJSONL
}

// File reads the corpus from a file on every call, so a refresh sees the
// latest content.
type File struct {
	Path   string
	Format Format

	name string
}

var _ Supplier = (*File)(nil)

// NewFile creates a supplier for path, detecting the format when format is
// empty.
func NewFile(path string, format Format) *File {
	if format == "" {
		format = DetectFormat(path)
	}
	return &File{Path: path, Format: format}
}

func (f *File) Documents(ctx context.Context) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "corpus file not found: "+f.Path, err).
				WithSuggestion("set corpus.path or KBSEARCH_CORPUS")
		}
		return nil, kberrors.IOError("open corpus "+f.Path, err)
	}
	defer fh.Close()

	switch f.Format {
	case FormatExport:
		name, docs, err := ReadExport(fh, f.Path)
		if err != nil {
			return nil, kberrors.IOError("read corpus export", err)
		}
		f.name = name
		return docs, nil
	default:
		docs, err := ReadJSONL(fh, f.Path)
		if err != nil {
			return nil, kberrors.IOError("read corpus", err)
		}
		return docs, nil
	}
}

// CollectionName is the name recorded in an export, or the file's base name
// without extension.
func (f *File) CollectionName() string {
	if f.name != "" {
		return f.name
	}
	base := filepath.Base(f.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
