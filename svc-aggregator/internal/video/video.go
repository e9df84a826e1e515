package video

import (
	"context"
	"fmt"
	"image"
	"log"
	"strconv"
	"sync"
	"time"

	api "github.com/etesami/moto-tracking-system/api"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"

	"gocv.io/x/gocv"
)

// maxEmptyFrames is the number of consecutive failed reads after which the input stops
const maxEmptyFrames = 10

// Config holds the video input parameters
type Config struct {
	// Source is a file path, an RTSP URL or a device index
	Source      string
	SourceId    string
	QueueSize   int
	ImageWidth  int
	ImageHeight int
	JpegQuality int
}

type frame struct {
	meta api.FrameMetadata
	data []byte
}

// Input reads, resizes and JPEG-encodes the frames of a video source in the
// background. Frames are dropped when the queue is full.
type Input struct {
	config  *Config
	metric  *mt.Metric
	capture *gocv.VideoCapture
	queue   chan frame
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	frameCount  int64
	emptyFrames int
}

// Open opens the video source and starts reading it
func Open(config *Config, m *mt.Metric) (*Input, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if device, convErr := strconv.Atoi(config.Source); convErr == nil {
		capture, err = gocv.OpenVideoCapture(device)
	} else {
		capture, err = gocv.OpenVideoCapture(config.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening video source %s: %w", config.Source, err)
	}
	log.Printf("Opened video source: [%s]", config.Source)

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	vi := &Input{
		config:     config,
		metric:     m,
		capture:    capture,
		queue:      make(chan frame, queueSize),
		done:       make(chan struct{}),
		frameCount: -1,
	}

	vi.wg.Add(1)
	go vi.readFrames()

	return vi, nil
}

// readFrames reads frames from the video source until it is exhausted or closed
func (vi *Input) readFrames() {
	defer vi.wg.Done()
	defer close(vi.queue)

	img := gocv.NewMat()
	defer img.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	size := image.Pt(vi.config.ImageWidth, vi.config.ImageHeight)
	for {
		select {
		case <-vi.done:
			log.Println("Stopping video input processing")
			return
		default:
		}

		if ok := vi.capture.Read(&img); !ok || img.Empty() {
			vi.emptyFrames++
			vi.metric.AddFrameCount("empty", 1)
			if vi.emptyFrames > maxEmptyFrames {
				log.Printf("Too many empty frames from [%s], stopping video input", vi.config.Source)
				return
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		vi.emptyFrames = 0
		vi.frameCount++

		st := time.Now()
		src := img
		if size.X > 0 && size.Y > 0 {
			gocv.Resize(img, &resized, size, 0, 0, gocv.InterpolationDefault)
			src = resized
		}
		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, src, []int{gocv.IMWriteJpegQuality, vi.jpegQuality()})
		if err != nil {
			log.Printf("Error encoding frame [%d]: %v", vi.frameCount, err)
			continue
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()
		vi.metric.AddProcessingTime("encode", float64(time.Since(st).Microseconds())/1000.0)

		f := frame{
			meta: api.FrameMetadata{
				Timestamp: st,
				SourceId:  vi.config.SourceId,
				FrameId:   vi.frameCount,
				Width:     src.Cols(),
				Height:    src.Rows(),
			},
			data: data,
		}

		select {
		case vi.queue <- f:
		case <-vi.done:
			return
		default:
			vi.metric.AddFrameCount("skipped", 1)
		}
	}
}

func (vi *Input) jpegQuality() int {
	if vi.config.JpegQuality <= 0 || vi.config.JpegQuality > 100 {
		return 90
	}
	return vi.config.JpegQuality
}

// Next returns the next queued frame, false once the input is exhausted,
// closed or ctx is done
func (vi *Input) Next(ctx context.Context) (api.FrameMetadata, []byte, bool) {
	select {
	case f, ok := <-vi.queue:
		return f.meta, f.data, ok
	case <-ctx.Done():
		return api.FrameMetadata{}, nil, false
	}
}

// Close stops the reader and releases the video source
func (vi *Input) Close() {
	vi.once.Do(func() {
		close(vi.done)
		vi.wg.Wait()
		vi.capture.Close()
		log.Println("Video input closed.")
	})
}
