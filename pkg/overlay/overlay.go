package overlay

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"path/filepath"

	api "github.com/etesami/moto-tracking-system/api"
	"gocv.io/x/gocv"
)

var (
	boxColor  = color.RGBA{0, 255, 0, 0}
	textColor = color.RGBA{0, 255, 0, 0}
)

// Writer saves annotated snapshots of tracked frames to Dir every Frequency frames
type Writer struct {
	Dir       string
	Frequency int
}

// Draw annotates img with the box, identity and zone of every object
func Draw(img *gocv.Mat, objects []api.TrackedObject) {
	for _, o := range objects {
		gocv.Rectangle(img, o.Box, boxColor, 2)
		gocv.Circle(img, o.Centroid, 3, boxColor, -1)
		label := fmt.Sprintf("ID %d", o.Id)
		if o.Zone != "" {
			label = fmt.Sprintf("%s %s", label, o.Zone)
		}
		y := o.Box.Min.Y - 10
		if y < 0 {
			y = 0
		}
		gocv.PutText(img, label, image.Pt(o.Box.Min.X, y), gocv.FontHersheySimplex, 0.6, textColor, 2)
	}
}

// SaveFrame decodes the JPEG frame, draws the objects and writes it to Dir
func (w *Writer) SaveFrame(meta api.FrameMetadata, frame []byte, objects []api.TrackedObject) error {
	if w.Frequency <= 0 || meta.FrameId%int64(w.Frequency) != 0 || len(frame) == 0 {
		return nil
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("error decoding image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("empty image for frame [%d]", meta.FrameId)
	}

	Draw(&img, objects)

	filename := filepath.Join(w.Dir, fmt.Sprintf("%s_%d_tracker.jpg", meta.SourceId, meta.FrameId))
	if ok := gocv.IMWrite(filename, img); !ok {
		return fmt.Errorf("failed to write frame to [%s]", filename)
	}
	log.Printf("Frame [%d]: %d tracked objects, written to [%s]", meta.FrameId, len(objects), filename)
	return nil
}
