// Package migrations embeds the SQL schema so tests and tooling can apply it
// without a migration runner on the path.
package migrations

import (
	"embed"
	"sort"
)

//go:embed *.sql
var files embed.FS

// All returns the migration scripts in filename order.
func All() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, string(content))
	}
	return scripts, nil
}
