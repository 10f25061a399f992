//go:build windows

package processfile

import "os"

// renameio has no Windows support; readers tolerate a short window of partial content
func writeFileAtomic(path string, content []byte) error {
	return os.WriteFile(path, content, 0644)
}
