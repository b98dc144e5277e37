package media

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"transcribebot/internal/domain"
)

// DetectContentType sniffs the file's content type from its leading bytes.
func DetectContentType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect content type of %s: %w", path, err)
	}
	return mt.String(), nil
}

// SniffAudio reports the detected content type and whether it is audio.
// Ogg containers are accepted even when the codec header is not recognised,
// since voice notes arrive as Ogg/Opus.
func SniffAudio(path string) (string, bool, error) {
	ct, err := DetectContentType(path)
	if err != nil {
		return "", false, err
	}
	if domain.IsAudioContentType(ct) {
		return ct, true, nil
	}
	mt, _ := mimetype.DetectFile(path)
	for ; mt != nil; mt = mt.Parent() {
		if mt.Is("application/ogg") {
			return ct, true, nil
		}
	}
	return ct, false, nil
}
