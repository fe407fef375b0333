package persist

import "fmt"

// Open constructs the Backend named by backend ("file" or "sqlite"),
// mirroring the PERSISTENCE_BACKEND environment switch (spec.md §6).
func Open(backend, path string) (Backend, error) {
	switch backend {
	case "", "file":
		return NewFileBackend(path)
	case "sqlite":
		return NewObjectStore(path)
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", backend)
	}
}
