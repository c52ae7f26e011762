// Package blob stores document payloads in S3 (or any S3-compatible
// endpoint) under one prefix per document UUID:
//
//	{uuid}/original             raw uploaded bytes
//	{uuid}/extracted.txt        canonical extracted text
//	{uuid}/bm25_doc_index.json  per-chunk lexical term frequencies
//	{uuid}/chunks/000.json      chunk bodies, zero-padded index
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

const defaultConcurrency = 10

type S3Store struct {
	client      *s3.Client
	bucket      string
	concurrency int
	logger      zerolog.Logger
}

// New builds the client from the static credentials in cfg, or the
// ambient AWS credential chain when none are set. A non-empty endpoint
// switches to path-style addressing for MinIO and friends.
func New(ctx context.Context, cfg config.BlobConfig, logger zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %v", domain.ErrBlobFailed, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &S3Store{
		client:      client,
		bucket:      cfg.Bucket,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "blob-store").Logger(),
	}, nil
}

func originalKey(uuid string) string { return uuid + "/original" }
func extractedKey(uuid string) string { return uuid + "/extracted.txt" }
func indexKey(uuid string) string    { return uuid + "/bm25_doc_index.json" }

func chunkKey(uuid string, index int) string {
	return fmt.Sprintf("%s/chunks/%03d.json", uuid, index)
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrBlobFailed, key, err)
	}
	return nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrBlobFailed, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrBlobFailed, key, err)
	}
	return data, nil
}

// UploadDocument writes every object for a document in parallel. Any
// failure aborts the group; the caller is expected to run DeleteDocument
// as compensation.
func (s *S3Store) UploadDocument(ctx context.Context, uuid string, original []byte, mimeType string, extracted string, index *domain.LexicalIndex, chunks []domain.ChunkBody) error {
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: marshal lexical index: %v", domain.ErrBlobFailed, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	g.Go(func() error { return s.put(ctx, originalKey(uuid), original, mimeType) })
	g.Go(func() error { return s.put(ctx, extractedKey(uuid), []byte(extracted), "text/plain; charset=utf-8") })
	g.Go(func() error { return s.put(ctx, indexKey(uuid), indexJSON, "application/json") })

	for _, chunk := range chunks {
		g.Go(func() error {
			body, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("%w: marshal chunk %d: %v", domain.ErrBlobFailed, chunk.Index, err)
			}
			return s.put(ctx, chunkKey(uuid, chunk.Index), body, "application/json")
		})
	}

	return g.Wait()
}

func (s *S3Store) fetchChunkBodies(ctx context.Context, uuid string, indices []int) (map[int]domain.ChunkBody, error) {
	var mu sync.Mutex
	bodies := make(map[int]domain.ChunkBody, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, index := range indices {
		g.Go(func() error {
			data, err := s.get(ctx, chunkKey(uuid, index))
			if err != nil {
				return err
			}
			var body domain.ChunkBody
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("%w: decode chunk %d of %s: %v", domain.ErrBlobFailed, index, uuid, err)
			}
			mu.Lock()
			bodies[index] = body
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

func (s *S3Store) FetchChunks(ctx context.Context, uuid string, indices []int) (map[int]string, error) {
	bodies, err := s.fetchChunkBodies(ctx, uuid, indices)
	if err != nil {
		return nil, err
	}
	texts := make(map[int]string, len(bodies))
	for index, body := range bodies {
		texts[index] = body.Text
	}
	return texts, nil
}

func (s *S3Store) FetchChunksWithMetadata(ctx context.Context, uuid string, indices []int) (map[int]domain.ChunkBody, error) {
	return s.fetchChunkBodies(ctx, uuid, indices)
}

func (s *S3Store) FetchExtractedText(ctx context.Context, uuid string) (string, error) {
	data, err := s.get(ctx, extractedKey(uuid))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *S3Store) FetchOriginal(ctx context.Context, uuid string) ([]byte, error) {
	return s.get(ctx, originalKey(uuid))
}

func (s *S3Store) FetchLexicalIndex(ctx context.Context, uuid string) (*domain.LexicalIndex, error) {
	data, err := s.get(ctx, indexKey(uuid))
	if err != nil {
		return nil, err
	}
	var index domain.LexicalIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: decode lexical index of %s: %v", domain.ErrBlobFailed, uuid, err)
	}
	return &index, nil
}

// DeleteDocument removes everything under the document prefix. Individual
// delete failures are logged and skipped so a partial cleanup still
// removes as much as it can.
func (s *S3Store) DeleteDocument(ctx context.Context, uuid string) error {
	prefix := uuid + "/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list %s: %v", domain.ErrBlobFailed, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			g.Go(func() error {
				_, err := s.client.DeleteObject(gctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    aws.String(key),
				})
				if err != nil {
					s.logger.Warn().Err(err).Str("key", key).Msg("blob delete failed, skipping")
				}
				return nil
			})
		}
	}

	return g.Wait()
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("%w: head bucket %s: %v", domain.ErrBlobFailed, s.bucket, err)
	}
	return nil
}
