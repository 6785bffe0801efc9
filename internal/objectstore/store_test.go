package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	got := Key("production", "MLSGrid", "LK-1001", 3, "image/png")
	assert.Equal(t, "production/mlsgrid/LK-1001/3.png", got)
}

func TestKeyDefaultsToJPEGForUnknownContentType(t *testing.T) {
	got := Key("staging", "RESO", "LK-2", 0, "application/octet-stream")
	assert.Equal(t, "staging/reso/LK-2/0.jpg", got)
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/png":  "png",
		"image/gif":  "gif",
		"image/webp": "webp",
		"image/jpeg": "jpg",
		"":           "jpg",
	}
	for contentType, want := range cases {
		assert.Equal(t, want, extensionFor(contentType))
	}
}

func TestPublicURL(t *testing.T) {
	s := &Store{cdnBase: "https://cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/production/reso/LK-1/0.jpg", s.PublicURL("production/reso/LK-1/0.jpg"))
}
