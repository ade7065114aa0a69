package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"call-audit-go/internal/types"
)

// SupportedEncodings lists the recording formats the transcription service accepts.
var SupportedEncodings = []string{"mp3", "wav", "m4a"}

// Encoding returns the lower-cased extension of path if it is supported.
func Encoding(path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range SupportedEncodings {
		if ext == e {
			return ext, nil
		}
	}
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", types.ErrUnsupportedFormat, filepath.Base(path))
	}
	return "", fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, ext)
}

// Validate checks the file extension and then the file itself. The extension
// check comes first so an unsupported upload is rejected without touching disk.
func Validate(path string) (types.AudioAsset, error) {
	enc, err := Encoding(path)
	if err != nil {
		return types.AudioAsset{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return types.AudioAsset{}, fmt.Errorf("stat audio: %w", err)
	}
	if st.IsDir() {
		return types.AudioAsset{}, fmt.Errorf("audio path %s is a directory", path)
	}
	if st.Size() == 0 {
		return types.AudioAsset{}, fmt.Errorf("audio file %s is empty", path)
	}
	return types.AudioAsset{
		Path:     path,
		Name:     filepath.Base(path),
		Encoding: enc,
		Size:     st.Size(),
	}, nil
}
