package toolset

import (
	"embed"
)

//go:embed catalogs/*.yaml
var builtinFS embed.FS

// BuiltinCatalogs returns the raw builtin catalog files compiled into the
// engine.
func BuiltinCatalogs() [][]byte {
	entries, err := builtinFS.ReadDir("catalogs")
	if err != nil {
		return nil
	}

	catalogs := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		raw, err := builtinFS.ReadFile("catalogs/" + entry.Name())
		if err != nil {
			continue
		}
		catalogs = append(catalogs, raw)
	}
	return catalogs
}
