package dnn

import (
	"fmt"
	"image"
	"log"
	"os"
	"sync"

	api "github.com/etesami/moto-tracking-system/api"
	"github.com/etesami/moto-tracking-system/pkg/fleet"

	"gocv.io/x/gocv"
)

var (
	ratio    = 0.003921568627
	mean     = gocv.NewScalar(0, 0, 0, 0)
	swapRGB  = true
	padValue = gocv.NewScalar(144.0, 0, 0, 0)

	nmsThreshold float32 = 0.4
)

// cocoClasses are the labels of the YOLOv8 COCO model, indexed by class id
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// YoloDetector runs a YOLOv8 ONNX model loaded once at start-up. The network
// is not safe for concurrent use so Detect calls are serialized.
type YoloDetector struct {
	mu          sync.Mutex
	net         gocv.Net
	outputNames []string
	inputSize   image.Point
	threshold   float64
}

func NewYoloDetector(model string, width, height int, threshold float64) (*YoloDetector, error) {
	info, err := os.Stat(model)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("model file is missing or empty: %s, %v", model, err)
	}
	net := gocv.ReadNetFromONNX(model)
	if net.Empty() {
		return nil, fmt.Errorf("error reading network model from: %s", model)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	outputNames := getOutputNames(&net)
	if len(outputNames) == 0 {
		net.Close()
		return nil, fmt.Errorf("error reading output layer names")
	}
	log.Printf("Loaded model [%s], input [%dx%d], outputs %v", model, width, height, outputNames)

	return &YoloDetector{
		net:         net,
		outputNames: outputNames,
		inputSize:   image.Pt(width, height),
		threshold:   threshold,
	}, nil
}

// Detect decodes the JPEG frame and returns the detections of the fleet classes
// above the confidence threshold, in the frame's pixel coordinates
func (d *YoloDetector) Detect(frame []byte) ([]api.Detection, error) {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	params := gocv.NewImageToBlobParams(ratio, d.inputSize, mean, swapRGB, gocv.MatTypeCV32F, gocv.DataLayoutNCHW, gocv.PaddingModeLetterbox, padValue)
	blob := gocv.BlobFromImageWithParams(img, params)
	defer blob.Close()

	d.net.SetInput(blob, "")
	probs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for _, prob := range probs {
			prob.Close()
		}
	}()

	boxes, confidences, classIds := performDetection(probs, float32(d.threshold))
	if len(boxes) == 0 {
		return []api.Detection{}, nil
	}

	iboxes := params.BlobRectsToImageRects(boxes, image.Pt(img.Cols(), img.Rows()))
	indices := gocv.NMSBoxes(iboxes, confidences, float32(d.threshold), nmsThreshold)

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	dets := make([]api.Detection, 0, len(indices))
	for _, idx := range indices {
		class := className(classIds[idx])
		if !fleet.Accept(class, float64(confidences[idx]), d.threshold) {
			continue
		}
		box := iboxes[idx].Intersect(bounds)
		if box.Empty() {
			continue
		}
		dets = append(dets, api.Detection{
			Box:        box,
			ClassId:    classIds[idx],
			Class:      class,
			Confidence: confidences[idx],
		})
	}
	return dets, nil
}

func (d *YoloDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func className(id int) string {
	if id < 0 || id >= len(cocoClasses) {
		return fmt.Sprintf("class_%d", id)
	}
	return cocoClasses[id]
}

func getOutputNames(net *gocv.Net) []string {
	var outputLayers []string
	for _, i := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(i)
		layerName := layer.GetName()
		if layerName != "_input" {
			outputLayers = append(outputLayers, layerName)
		}
	}

	return outputLayers
}

// performDetection decodes the YOLOv8 output, one row per candidate:
// center x, center y, width, height, then one score per class
func performDetection(outs []gocv.Mat, threshold float32) ([]image.Rectangle, []float32, []int) {
	var classIds []int
	var confidences []float32
	var boxes []image.Rectangle

	// needed for yolov8
	gocv.TransposeND(outs[0], []int{0, 2, 1}, &outs[0])

	for _, out := range outs {
		out = out.Reshape(1, out.Size()[1])

		for i := 0; i < out.Rows(); i++ {
			cols := out.Cols()
			scoresCol := out.RowRange(i, i+1)
			scores := scoresCol.ColRange(4, cols)
			_, confidence, _, classIDPoint := gocv.MinMaxLoc(scores)
			scores.Close()
			scoresCol.Close()

			if confidence < threshold {
				continue
			}
			centerX := out.GetFloatAt(i, 0)
			centerY := out.GetFloatAt(i, 1)
			width := out.GetFloatAt(i, 2)
			height := out.GetFloatAt(i, 3)

			left := centerX - width/2
			top := centerY - height/2
			right := centerX + width/2
			bottom := centerY + height/2
			classIds = append(classIds, classIDPoint.X)
			confidences = append(confidences, confidence)
			boxes = append(boxes, image.Rect(int(left), int(top), int(right), int(bottom)))
		}
	}

	return boxes, confidences, classIds
}
