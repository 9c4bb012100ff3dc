package workers

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/facette/natsort"

	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/services"
)

// ErrPoolStopped is returned for batches submitted after Stop.
var ErrPoolStopped = errors.New("derivative pool stopped")

// DerivativeJob is one upload waiting for its artifacts to be written.
type DerivativeJob struct {
	ctx       context.Context
	GalleryID uint
	Upload    services.Upload
	result    chan<- prepareResult
}

type prepareResult struct {
	prepared *services.PreparedImage
	err      error
}

// UploadResult reports the outcome of one file of a batch.
type UploadResult struct {
	Filename string        `json:"filename"`
	Image    *models.Image `json:"image,omitempty"`
	Err      error         `json:"-"`
}

// DerivativePool bounds how many uploads are decoded and resized at once. workers only
// prepare artifacts; catalog records are committed by the submitting batch in filename
// order, so a batch gets consecutive order indices.
type DerivativePool struct {
	JobQueue chan DerivativeJob
	pipeline *services.DerivativePipeline
	Wg       sync.WaitGroup
	StopChan chan struct{}
	stopOnce sync.Once
}

func NewDerivativePool(pipeline *services.DerivativePipeline, queueSize, numWorkers int) *DerivativePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	pool := &DerivativePool{
		JobQueue: make(chan DerivativeJob, queueSize),
		pipeline: pipeline,
		StopChan: make(chan struct{}),
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	log.Printf("Started %d derivative worker(s) with queue size %d", numWorkers, queueSize)
	return pool
}

func (dp *DerivativePool) worker(id int) {
	defer dp.Wg.Done()

	for {
		select {
		case job := <-dp.JobQueue:
			if err := job.ctx.Err(); err != nil {
				job.result <- prepareResult{err: err}
				continue
			}
			prepared, err := dp.pipeline.Prepare(job.ctx, job.GalleryID, job.Upload)
			if err != nil {
				log.Printf("Derivative worker %d: failed to prepare %s for gallery %d: %v", id, job.Upload.Filename, job.GalleryID, err)
			}
			job.result <- prepareResult{prepared: prepared, err: err}

		case <-dp.StopChan:
			log.Printf("Derivative worker %d stopping: Stop signal received", id)
			return
		}
	}
}

// ProcessBatch runs every upload of one request through the pool. uploads are ordered by
// natural filename order; each one succeeds or fails on its own.
func (dp *DerivativePool) ProcessBatch(ctx context.Context, galleryID uint, uploads []services.Upload) ([]UploadResult, error) {
	if _, err := dp.pipeline.RequireGallery(ctx, galleryID); err != nil {
		return nil, err
	}

	ordered := make([]services.Upload, len(uploads))
	copy(ordered, uploads)
	sort.SliceStable(ordered, func(i, j int) bool {
		return natsort.Compare(ordered[i].Filename, ordered[j].Filename)
	})

	pending := make([]chan prepareResult, len(ordered))
	for i, upload := range ordered {
		// buffered so a worker never blocks on a batch that stopped waiting
		ch := make(chan prepareResult, 1)
		pending[i] = ch
		job := DerivativeJob{ctx: ctx, GalleryID: galleryID, Upload: upload, result: ch}
		select {
		case dp.JobQueue <- job:
		case <-ctx.Done():
			ch <- prepareResult{err: ctx.Err()}
		case <-dp.StopChan:
			ch <- prepareResult{err: ErrPoolStopped}
		}
	}

	results := make([]UploadResult, len(ordered))
	for i, ch := range pending {
		results[i].Filename = ordered[i].Filename

		var res prepareResult
		select {
		case res = <-ch:
		case <-dp.StopChan:
			// jobs still queued at Stop are never picked up
			dp.Wg.Wait()
			select {
			case res = <-ch:
			default:
				res = prepareResult{err: ErrPoolStopped}
			}
		}
		if res.err != nil {
			results[i].Err = res.err
			continue
		}

		image, err := dp.pipeline.Commit(ctx, res.prepared)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Image = image
	}
	return results, nil
}

func (dp *DerivativePool) Stop() {
	dp.stopOnce.Do(func() {
		log.Println("Stopping derivative workers...")
		close(dp.StopChan)
		dp.Wg.Wait()
		log.Println("All derivative workers stopped")
	})
}
