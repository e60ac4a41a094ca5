package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/praxis-systems/aegis/pkg/canon"
	"github.com/praxis-systems/aegis/pkg/ledger"
)

// s3API is the slice of the S3 client the adapter needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 anchors block records as JSON objects in an S3 bucket. Object keys are
// zero-padded so listings sort in block order.
type S3 struct {
	client s3API
	bucket string
	prefix string
	clock  func() time.Time
}

// NewS3 wraps an existing S3 client.
func NewS3(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: normalizePrefix(prefix), clock: time.Now}
}

// NewS3FromConfig builds the client from the ambient AWS configuration
// (environment, shared config, instance role).
func NewS3FromConfig(ctx context.Context, bucket, prefix string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func normalizePrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (a *S3) Name() string { return "s3" }

func (a *S3) key(blockNumber uint64) string {
	return fmt.Sprintf("%sblock-%012d.json", a.prefix, blockNumber)
}

func (a *S3) SubmitBlock(ctx context.Context, block *ledger.Block) (*Receipt, error) {
	now := a.clock().UTC()
	rec := newRecord(block, now)
	body, err := canon.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("anchor: encode record: %w", err)
	}

	key := a.key(block.BlockNumber)
	contentType := "application/json"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("anchor: s3 put block %d: %w", block.BlockNumber, err)
	}
	return &Receipt{Provider: a.Name(), Ref: key, AnchoredAt: now}, nil
}

func (a *S3) fetch(ctx context.Context, blockNumber uint64) (*Record, error) {
	key := a.key(blockNumber)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		var apiErr interface{ ErrorCode() string }
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("%w: block %d", ErrBlockNotAnchored, blockNumber)
		}
		return nil, fmt.Errorf("anchor: s3 get block %d: %w", blockNumber, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("anchor: s3 read block %d: %w", blockNumber, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("anchor: s3 decode block %d: %w", blockNumber, err)
	}
	return &rec, nil
}

func (a *S3) VerifyBlock(ctx context.Context, blockNumber uint64, merkleRoot string) (bool, error) {
	rec, err := a.fetch(ctx, blockNumber)
	if errors.Is(err, ErrBlockNotAnchored) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.MerkleRoot == merkleRoot, nil
}

func (a *S3) BlockProof(ctx context.Context, blockNumber uint64) (map[string]interface{}, error) {
	rec, err := a.fetch(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"proof_type":   a.Name(),
		"bucket":       a.bucket,
		"key":          a.key(blockNumber),
		"block_number": rec.BlockNumber,
		"merkle_root":  rec.MerkleRoot,
		"entry_count":  rec.EntryCount,
		"anchored_at":  rec.AnchoredAt,
	}, nil
}
