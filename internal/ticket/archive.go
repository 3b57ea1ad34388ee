package ticket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/accessrecon/internal/jobs"
	"github.com/onnwee/accessrecon/internal/ledger"
)

// Archiver configuration errors.
var (
	ErrMissingBucket      = errors.New("bucket name is required")
	ErrMissingCredentials = errors.New("access key ID and secret access key are required")
	ErrNoEvents           = errors.New("no events to archive")
)

// ObjectPutter is the subset of the S3 client used by S3Archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// JobMetrics receives archive outcomes.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// S3Config configures an S3Archiver. Endpoint selects an S3-compatible
// service and switches to path-style addressing.
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Prefix is prepended to every object key. Defaults to "tickets".
	Prefix     string
	Logger     *slog.Logger
	JobMetrics JobMetrics
}

// S3Archiver writes ticket exports to a bucket.
type S3Archiver struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	logger  *slog.Logger
	metrics JobMetrics
	timeNow func() time.Time
}

// NewS3Archiver creates an archiver with its own S3 client.
func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return NewS3ArchiverWithClient(s3.New(opts), cfg), nil
}

// NewS3ArchiverWithClient creates an archiver over an existing client.
func NewS3ArchiverWithClient(client ObjectPutter, cfg S3Config) *S3Archiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "tickets"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		logger:  cfg.Logger,
		metrics: cfg.JobMetrics,
		timeNow: time.Now,
	}
}

// ObjectKey returns the key used for a case export.
// Pattern: {prefix}/{yyyy}/{mm}/{caseID}.{format}
func (a *S3Archiver) ObjectKey(caseID string, format Format, at time.Time) string {
	at = at.UTC()
	return path.Join(a.prefix, at.Format("2006"), at.Format("01"), caseID+"."+string(format))
}

// Archive exports the events of one case and uploads the result. It returns
// the object key written.
func (a *S3Archiver) Archive(ctx context.Context, caseID string, events []ledger.Event, format Format) (key string, err error) {
	start := a.timeNow()
	defer func() { a.record(start, err) }()

	if len(events) == 0 {
		return "", fmt.Errorf("%w: case %s", ErrNoEvents, caseID)
	}
	data, err := Export(events, format)
	if err != nil {
		return "", err
	}

	key = a.ObjectKey(caseID, format, start)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(format.ContentType()),
		Metadata: map[string]string{
			"case-id":      caseID,
			"employee-id":  events[0].EmployeeID,
			"ticket-count": fmt.Sprint(len(events)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload ticket export: %w", err)
	}

	a.logger.InfoContext(ctx, "ticket export archived",
		slog.String("case_id", caseID),
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int("tickets", len(events)))
	return key, nil
}

func (a *S3Archiver) record(start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
		errorType := "upload_error"
		switch {
		case errors.Is(err, ErrNoEvents):
			errorType = "no_events"
		case errors.Is(err, ErrUnsupportedFormat):
			errorType = "format_error"
		case errors.Is(err, context.DeadlineExceeded):
			errorType = "timeout"
		}
		a.metrics.IncJobErrors(jobs.JobTypeTicketArchive, errorType)
	}
	a.metrics.IncJobsTotal(jobs.JobTypeTicketArchive, status)
	a.metrics.ObserveJobDuration(jobs.JobTypeTicketArchive, a.timeNow().Sub(start).Seconds())
}
