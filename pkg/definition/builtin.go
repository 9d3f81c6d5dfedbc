package definition

import (
	"context"
	"embed"
	"io/fs"
	"path"

	"github.com/pkg/errors"

	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// builtinFiles holds the starter persona set shipped with the binary.
// Workspace definitions with the same ids take precedence because the
// builtin source is always consulted last.
//
//go:embed builtin/*.md
var builtinFiles embed.FS

const builtinDirName = "builtin"

// BuiltinSource yields the embedded starter definitions.
type BuiltinSource struct {
	fsys fs.FS
}

// NewBuiltinSource returns the embedded starter definition source.
func NewBuiltinSource() *BuiltinSource {
	return &BuiltinSource{fsys: builtinFiles}
}

// Name implements Source.
func (b *BuiltinSource) Name() string {
	return builtinDirName
}

// Documents implements Source.
func (b *BuiltinSource) Documents(_ context.Context) ([]Document, error) {
	entries, err := fs.ReadDir(b.fsys, builtinDirName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list builtin definitions")
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		name := path.Join(builtinDirName, entry.Name())
		content, err := fs.ReadFile(b.fsys, name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read builtin definition %s", name)
		}
		docs = append(docs, Document{
			Path:    name,
			Source:  agenttypes.CoreSource(),
			Content: content,
		})
	}

	return docs, nil
}
