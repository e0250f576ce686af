package storage

import (
	"io"

	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	Delete(key string) error
}

// allowedImageExt maps accepted image content types to file extensions.
var allowedImageExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// QuestionImageKey names the blob that holds a question's image. ok is false
// for content types that are not accepted images.
func QuestionImageKey(examID, questionID, contentType string) (key string, ok bool) {
	ext, ok := allowedImageExt[contentType]
	if !ok {
		return "", false
	}
	return "exams/" + examID + "/questions/" + questionID + ext, true
}
