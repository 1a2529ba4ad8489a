package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store writes retention exports to S3. If bucket is empty all operations
// are no-ops, so deployments without an archive bucket need no special
// casing.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger.Component("archive")}
}

// Enabled reports whether archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Put writes one export as JSON under a dated, firm-scoped key and appends
// it to the firm's monthly manifest.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	now := rec.ArchivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s3Key := fmt.Sprintf("conversations/v1/%s/%d/%02d/%02d/%s.json",
		rec.FirmID, now.Year(), now.Month(), now.Day(), rec.SessionID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived conversation",
		"firm_id", rec.FirmID,
		"session_id", rec.SessionID,
		"s3_key", s3Key,
		"message_count", rec.MessageCount,
	)

	entry := ManifestEntry{
		SessionID:     rec.SessionID,
		S3Key:         s3Key,
		Phase:         rec.Phase,
		ArchivedAt:    now.Format(time.RFC3339),
		MessageCount:  rec.MessageCount,
		RetentionDays: rec.RetentionDays,
	}
	if err := s.appendManifest(ctx, rec.FirmID, now, entry); err != nil {
		// The export itself already landed.
		s.logger.Warn("manifest append failed", "error", err, "session_id", rec.SessionID)
	}
	return nil
}

// appendManifest appends a JSONL line to the firm's monthly manifest. S3 has
// no append, so this is read-modify-write; manifest writes are advisory.
func (s *Store) appendManifest(ctx context.Context, firmID string, now time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	key := fmt.Sprintf("conversations/v1/%s/manifests/%d-%02d.jsonl", firmID, now.Year(), now.Month())

	var existing []byte
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		existing, _ = io.ReadAll(out.Body)
		out.Body.Close()
	} else {
		var noKey *s3types.NoSuchKey
		if !errors.As(err, &noKey) {
			s.logger.Debug("manifest read failed, starting fresh", "key", key, "error", err)
		}
	}

	body := append(existing, line...)
	body = append(body, '\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest %s: %w", key, err)
	}
	return nil
}
