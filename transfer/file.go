package transfer

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is a downloaded file with its restored metadata.
type File struct {
	Name string
	Type string
	Size int64
	Data []byte
}

// Save writes the file into dir under its base name and returns the path.
// A name that would escape dir is replaced by "download".
func (f *File) Save(dir string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + f.Name))
	if name == "/" || name == "." || name == "" {
		name = "download"
	}
	localPath := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("transfer: create local directory: %w", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("transfer: create local file: %w", err)
	}

	var retErr error
	defer func() {
		_ = out.Close()
		if retErr != nil {
			_ = os.Remove(localPath)
		}
	}()

	if _, err := out.Write(f.Data); err != nil {
		retErr = fmt.Errorf("transfer: write local file: %w", err)
		return "", retErr
	}
	return localPath, nil
}
