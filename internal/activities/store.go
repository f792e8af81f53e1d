package activities

import (
	"context"
	"errors"
	"fmt"
	"go.temporal.io/sdk/activity"
	"image-processing-flow/internal/metrics"
	"image-processing-flow/internal/objectstore"
	"image-processing-flow/internal/pipeline"
	"io"
	"os"
	"time"
)

type DownloadInput struct {
	Bucket    string
	Key       string
	LocalName string
}

type DownloadOutput struct {
	// Affinity is the task queue of the worker that now holds the file.
	Affinity pipeline.AffinityToken
	Bytes    int64
}

type UploadInput struct {
	Bucket    string
	LocalName string
	Key       string
}

type UploadOutput struct {
	URL string
}

type DeleteInput struct {
	LocalName string
}

// Store holds the activities that move files between the object store and
// this worker's workspace.
type Store struct {
	store             objectstore.Store
	ws                *Workspace
	token             pipeline.AffinityToken
	heartbeatInterval time.Duration
	presignExpiry     time.Duration
	metrics           *metrics.Recorder
	now               func() time.Time
}

type StoreOptions struct {
	HeartbeatInterval time.Duration
	PresignExpiry     time.Duration
	Metrics           *metrics.Recorder
}

func NewStore(store objectstore.Store, ws *Workspace, token pipeline.AffinityToken, opts StoreOptions) *Store {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Minute
	}
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = 30 * time.Minute
	}
	return &Store{
		store:             store,
		ws:                ws,
		token:             token,
		heartbeatInterval: opts.HeartbeatInterval,
		presignExpiry:     opts.PresignExpiry,
		metrics:           opts.Metrics,
		now:               time.Now,
	}
}

// Download copies bucket/key into the workspace and reports which worker
// holds it. Progress is heartbeated as a percentage.
func (s *Store) Download(ctx context.Context, input DownloadInput) (out DownloadOutput, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("Download", started, err) }()
	logger := activity.GetLogger(ctx)

	path, err := s.ws.Path(input.LocalName)
	if err != nil {
		return DownloadOutput{}, pipeline.NewPermanentInputError(err.Error(), err)
	}

	body, size, err := s.store.Get(ctx, input.Bucket, input.Key)
	if err != nil {
		return DownloadOutput{}, storeError("download", err)
	}
	defer body.Close()

	file, err := os.Create(path)
	if err != nil {
		return DownloadOutput{}, pipeline.NewTransientError("failed to create local file", err)
	}

	progress := newProgressWriter(file, size, s.heartbeatInterval, s.now, func(percent int) {
		activity.RecordHeartbeat(ctx, percent)
		s.metrics.Heartbeat("Download")
		logger.Debug("Download progress", "Key", input.Key, "Percent", percent)
	})
	n, err := io.Copy(progress, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return DownloadOutput{}, pipeline.NewTransientError("failed to download "+input.Bucket+"/"+input.Key, err)
	}

	s.metrics.Bytes("download", n)
	logger.Info("Downloaded", "Bucket", input.Bucket, "Key", input.Key, "Bytes", n, "Affinity", s.token)
	return DownloadOutput{Affinity: s.token, Bytes: n}, nil
}

// Upload puts a workspace file at bucket/key and returns a presigned GET URL
// for it.
func (s *Store) Upload(ctx context.Context, input UploadInput) (out UploadOutput, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("Upload", started, err) }()

	path, err := s.ws.Path(input.LocalName)
	if err != nil {
		return UploadOutput{}, pipeline.NewPermanentInputError(err.Error(), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return UploadOutput{}, pipeline.NewPermanentInputError("local file does not exist: "+input.LocalName, err)
		}
		return UploadOutput{}, pipeline.NewTransientError("failed to stat local file", err)
	}

	if err := s.store.Put(ctx, input.Bucket, input.Key, path); err != nil {
		return UploadOutput{}, storeError("upload", err)
	}
	s.metrics.Bytes("upload", info.Size())

	url, err := s.store.PresignedURL(ctx, input.Bucket, input.Key, s.presignExpiry)
	if err != nil {
		return UploadOutput{}, storeError("presign", err)
	}

	activity.GetLogger(ctx).Info("Uploaded", "Bucket", input.Bucket, "Key", input.Key)
	return UploadOutput{URL: url}, nil
}

func (s *Store) DeleteLocalFile(ctx context.Context, input DeleteInput) (err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("DeleteLocalFile", started, err) }()

	if err := s.ws.Remove(input.LocalName); err != nil {
		return fmt.Errorf("failed to delete %s: %w", input.LocalName, err)
	}
	return nil
}

func storeError(op string, err error) error {
	if objectstore.IsPermanent(err) {
		return pipeline.NewPermanentInputError(op+" failed", err)
	}
	return pipeline.NewTransientError(op+" failed", err)
}
