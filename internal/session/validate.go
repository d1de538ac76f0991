package session

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// ggufMagic is the 4-byte header every GGUF file starts with.
var ggufMagic = []byte("GGUF")

// ValidateModel is a lightweight pre-flight check: it loads the model,
// reads its metadata and frees it again without touching any controller
// state.
func ValidateModel(eng Engine, path string) (types.ModelInfo, error) {
	if !fsutil.PathExists(path) {
		return types.ModelInfo{}, newError(CodeModelNotFound, fmt.Sprintf("model file not found: %s", path))
	}

	eng.InitBackend()
	defer eng.FreeBackend()

	model, err := eng.LoadModel(path, 0)
	if err != nil {
		return types.ModelInfo{}, coded(err, CodeModelInvalid, "invalid model format")
	}
	defer eng.FreeModel(model)

	info := types.ModelInfo{
		Name:           eng.ModelDescription(model),
		ParameterCount: eng.ParamCount(model),
		ContextSize:    eng.TrainedContextSize(model),
		Capabilities:   []string{"text_generation"},
	}
	if info.Name == "" {
		info.Name = "Unknown Model"
	}
	return info, nil
}

// ValidateMmproj checks that the projector file exists and carries the GGUF
// magic. It does not load the projector.
func ValidateMmproj(path string) error {
	if !fsutil.PathExists(path) {
		return newError(CodeMmprojNotFound, fmt.Sprintf("multimodal projector file not found: %s", path))
	}
	f, err := os.Open(path)
	if err != nil {
		return newError(CodeMmprojInvalid, "cannot open mmproj file: "+err.Error())
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, ggufMagic) {
		return newError(CodeMmprojInvalid, "invalid mmproj format - not a GGUF file")
	}
	return nil
}

// ValidateImageData checks that the buffer looks like a supported encoded
// image (PNG, JPEG or BMP) and returns it unchanged. It is a pass-through
// validator, not a transcoder.
func ValidateImageData(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, newError(CodeImageProcessingFailed, "image data is empty")
	}
	if len(data) < 8 {
		return nil, newError(CodeImageProcessingFailed, "image data too small")
	}

	switch {
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47: // PNG
	case data[0] == 0xFF && data[1] == 0xD8: // JPEG
	case data[0] == 0x42 && data[1] == 0x4D: // BMP
	default:
		return nil, newError(CodeImageProcessingFailed, "unsupported image format")
	}
	return data, nil
}
