// Package docutil 提供上传文件的落盘与清理工具。
package docutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir 确保目录存在，不存在时递归创建。
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// SanitizeFilename 去除路径成分，防止上传文件名逃逸出存储目录。
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}

// SaveUpload 将上传内容写入目录下的指定文件，返回完整路径。
func SaveUpload(dir, filename string, data []byte) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, SanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload %s: %w", path, err)
	}
	return path, nil
}

// RemoveFiles 删除一组文件，忽略不存在的路径，返回首个删除错误。
func RemoveFiles(paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
