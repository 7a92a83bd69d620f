// Package blobstore offloads large workflow blobs and historical job
// snapshots to S3, grounded on the teacher's S3Node
// (internal/node/runtime/nodes/s3_node.go) Upload/Download/Delete shape,
// adapted from a user-facing workflow node into internal platform
// infrastructure: mongostore.JobStore and the dispatcher's in-memory map
// stay the live source of truth, while this store holds the bigger,
// colder artifacts (full workflow definitions, terminal job snapshots)
// referenced from them.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes the S3 bucket backing both stores.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (MinIO etc); forces path-style addressing
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, opts...), nil
}

// WorkflowBlobStore holds large workflow definition blobs in S3, keyed by
// workflow ID, for workflows too large to keep inline in the Job record.
type WorkflowBlobStore struct {
	client *s3.Client
	bucket string
}

// NewWorkflowBlobStore builds a store against the given bucket/region.
func NewWorkflowBlobStore(ctx context.Context, cfg Config) (*WorkflowBlobStore, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &WorkflowBlobStore{client: client, bucket: cfg.Bucket}, nil
}

func workflowKey(workflowID string) string { return "workflows/" + workflowID + ".json" }

// Put uploads blob as the current definition for workflowID.
func (s *WorkflowBlobStore) Put(ctx context.Context, workflowID string, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(workflowKey(workflowID)),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload workflow blob: %w", err)
	}
	return nil
}

// Get downloads the current definition blob for workflowID.
func (s *WorkflowBlobStore) Get(ctx context.Context, workflowID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(workflowKey(workflowID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download workflow blob: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Delete removes the stored blob for workflowID.
func (s *WorkflowBlobStore) Delete(ctx context.Context, workflowID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(workflowKey(workflowID)),
	})
	return err
}

// CheckpointBlobArchive writes a timestamped, immutable snapshot of a job's
// terminal state to S3, giving an audit trail the upsert-only mongo
// JobStore can't provide by itself.
type CheckpointBlobArchive struct {
	client *s3.Client
	bucket string
}

func NewCheckpointBlobArchive(ctx context.Context, cfg Config) (*CheckpointBlobArchive, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CheckpointBlobArchive{client: client, bucket: cfg.Bucket}, nil
}

func checkpointKey(jobID string, at time.Time) string {
	return fmt.Sprintf("checkpoints/%s/%d.json", jobID, at.UnixNano())
}

// Archive stores data (the checkpoint's serialized form) as an immutable,
// time-ordered snapshot for jobID.
func (a *CheckpointBlobArchive) Archive(ctx context.Context, jobID string, at time.Time, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(checkpointKey(jobID, at)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive checkpoint snapshot: %w", err)
	}
	return nil
}

// ListSnapshotKeys returns the archived snapshot keys for jobID in S3's
// lexical order. The key embeds an unpadded UnixNano timestamp, so lexical
// order is oldest first while all timestamps have the same digit count.
// It makes a single ListObjectsV2 call and returns only that first page
// (at most 1000 keys); further pages are not fetched.
func (a *CheckpointBlobArchive) ListSnapshotKeys(ctx context.Context, jobID string) ([]string, error) {
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(fmt.Sprintf("checkpoints/%s/", jobID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint snapshots: %w", err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}
