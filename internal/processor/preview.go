package processor

import (
	"fmt"
	"image"
)

// Preview runs frame through every module that accepts PurposePreview, in
// order. Modules that decline are skipped and reported by name; any other
// module error stops the preview.
func Preview(source, frame image.Image, modules []Module) (image.Image, []string, error) {
	if frame == nil {
		return nil, nil, ErrNilFrame
	}

	var declined []string
	for _, m := range modules {
		if err := m.PreProcess(PurposePreview); err != nil {
			declined = append(declined, m.Name())
			continue
		}
		out, err := m.ProcessFrame(source, nil, frame)
		if err != nil {
			return nil, declined, fmt.Errorf("%s: %w", m.Name(), err)
		}
		frame = out
	}
	return frame, declined, nil
}
