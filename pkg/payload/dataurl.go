package payload

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// EncodeImageFile reads an image file and returns it as a base64 data URL,
// the encoding the browser side expects when pasting images into a composer.
func EncodeImageFile(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mimeType, ok := imageMIMETypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported image type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
