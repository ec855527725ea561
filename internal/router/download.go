package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/logging"
	"github.com/darasa-app/darasa/internal/store"
)

// Partition names for downloaded videos. These are protected from
// activation GC: downloads outlive cache versions.
const (
	VideoBlobPartition = "videos"
	VideoMetaPartition = "videos-meta"
)

const downloadChunkSize = 64 * 1024

// Progress reports received bytes so far and the expected total, or -1
// when the server did not announce a length.
type Progress func(received, total int64)

// Video is the metadata snapshot of a downloaded video. SizeBytes is
// the exact byte length of the stored blob.
type Video struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	SizeBytes    int64     `json:"sizeBytes"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Downloads manages the downloaded-video tier: blobs in one partition,
// metadata snapshots in another, both keyed by URL.
type Downloads struct {
	blobs     *store.Partition
	meta      *store.Partition
	transport http.RoundTripper
	log       logging.Logger
}

// NewDownloads wires the download manager to its two partitions.
func NewDownloads(blobs, meta *store.Partition, transport http.RoundTripper, log logging.Logger) *Downloads {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Downloads{blobs: blobs, meta: meta, transport: transport, log: log}
}

// Download streams the video at url in chunks, reporting progress, and
// persists blob and metadata only once the complete body has arrived.
// Cancelling ctx aborts the stream cleanly: nothing is written, so no
// partial record can exist in the store.
func (d *Downloads) Download(ctx context.Context, url, title string, progress Progress) (*Video, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid download url: %w", err)
	}

	resp, err := d.transport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", common.ErrFetchFailed, resp.StatusCode)
	}

	total := resp.ContentLength
	var buf bytes.Buffer
	chunk := make([]byte, downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if progress != nil {
				progress(int64(buf.Len()), total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stream aborted: %v", common.ErrFetchFailed, err)
		}
	}

	blob := buf.Bytes()
	video := &Video{
		ID:           uuid.NewString(),
		URL:          url,
		Title:        title,
		SizeBytes:    int64(len(blob)),
		DownloadedAt: time.Now().UTC(),
	}
	metaPayload, err := json.Marshal(video)
	if err != nil {
		return nil, err
	}

	// Blob first, metadata second: a metadata row never points at a
	// missing blob.
	if err := d.blobs.Put(ctx, url, blob); err != nil {
		return nil, fmt.Errorf("failed to store video blob: %w", err)
	}
	if err := d.meta.Put(ctx, url, metaPayload); err != nil {
		_ = d.blobs.Delete(ctx, url)
		return nil, fmt.Errorf("failed to store video metadata: %w", err)
	}

	d.log.Info(ctx, "video downloaded", "title", title, "bytes", video.SizeBytes)
	return video, nil
}

// Get returns the metadata and blob of a downloaded video.
func (d *Downloads) Get(ctx context.Context, url string) (*Video, []byte, error) {
	metaRec, err := d.meta.Get(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	var video Video
	if err := json.Unmarshal(metaRec.Payload, &video); err != nil {
		return nil, nil, fmt.Errorf("failed to decode video metadata: %w", err)
	}
	blobRec, err := d.blobs.Get(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return &video, blobRec.Payload, nil
}

// List returns the metadata snapshots of every downloaded video.
func (d *Downloads) List(ctx context.Context) ([]Video, error) {
	recs, err := d.meta.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Video, 0, len(recs))
	for _, rec := range recs {
		var video Video
		if err := json.Unmarshal(rec.Payload, &video); err != nil {
			return nil, fmt.Errorf("failed to decode video metadata %s: %w", rec.Key, err)
		}
		out = append(out, video)
	}
	return out, nil
}

// Delete removes one downloaded video, blob and metadata.
func (d *Downloads) Delete(ctx context.Context, url string) error {
	if err := d.meta.Delete(ctx, url); err != nil {
		return err
	}
	return d.blobs.Delete(ctx, url)
}

// Clear removes every downloaded video.
func (d *Downloads) Clear(ctx context.Context) error {
	if err := d.meta.Clear(ctx); err != nil {
		return err
	}
	return d.blobs.Clear(ctx)
}

// TotalSize reports the stored byte total for the storage-accounting UI.
func (d *Downloads) TotalSize(ctx context.Context) (int64, error) {
	return d.blobs.TotalSize(ctx)
}
