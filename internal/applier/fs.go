package applier

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HashFile 计算文件的 SHA-256
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// copyFileAtomic 复制文件：先写临时文件再改名，目标要么是旧内容要么是完整新内容
func copyFileAtomic(src, dst string) error {
	if err := ensureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	data, err := osReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := osWriteFile(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return osRename(tmp, dst)
}

var (
	osReadFile  = os.ReadFile
	osWriteFile = func(path string, data []byte) error { return os.WriteFile(path, data, 0644) }
	osRename    = func(old string, new string) error { return os.Rename(old, new) }
)
