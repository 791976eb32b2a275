package media

import (
	"net/http"

	"Retoucher/core"
)

// MaxUploadSize is the largest accepted upload, 15 MiB.
const MaxUploadSize = 15 << 20

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// Validate checks size and sniffs the content type; only JPEG and PNG are
// accepted. It returns the detected content type and file extension.
func Validate(data []byte) (contentType string, ext string, err error) {
	if len(data) == 0 {
		return "", "", core.Validation("empty image")
	}
	if len(data) > MaxUploadSize {
		return "", "", core.Validation("image exceeds %d MB", MaxUploadSize>>20)
	}
	contentType = http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", "", core.Validation("unsupported image type %s, use JPEG or PNG", contentType)
	}
	return contentType, ext, nil
}
