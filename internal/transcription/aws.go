package transcription

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// S3API is the subset of the S3 client used for staging recordings.
// The [s3.Client] type satisfies this interface.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Uploader stages recordings in a bucket under an optional key prefix.
type S3Uploader struct {
	client       S3API
	bucket       string
	prefix       string
	region       string
	createBucket bool

	mu          sync.Mutex
	bucketReady bool
}

type S3UploaderConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	CreateBucket bool
}

func NewS3Uploader(client S3API, cfg S3UploaderConfig) *S3Uploader {
	return &S3Uploader{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		region:       cfg.Region,
		createBucket: cfg.CreateBucket,
	}
}

func (u *S3Uploader) key(k string) string {
	if u.prefix == "" {
		return k
	}
	return u.prefix + "/" + k
}

func (u *S3Uploader) Upload(ctx context.Context, key string, asset types.AudioAsset) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}
	f, err := os.Open(asset.Path)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("open audio: %w", err))
	}
	defer f.Close()

	k := u.key(key)
	contentType := mime.TypeByExtension(path.Ext(asset.Name))
	if contentType == "" {
		contentType = "audio/" + asset.Encoding
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(k),
		Body:          f,
		ContentLength: aws.Int64(asset.Size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, k, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, k), nil
}

func (u *S3Uploader) Remove(ctx context.Context, uri string) error {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return err
	}
	_, err = u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

// ensureBucket checks the bucket once per uploader and creates it when
// allowed. us-east-1 rejects an explicit location constraint.
func (u *S3Uploader) ensureBucket(ctx context.Context) error {
	if !u.createBucket {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bucketReady {
		return nil
	}
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	if err == nil {
		u.bucketReady = true
		return nil
	}
	if !isS3NotFound(err) {
		return fmt.Errorf("head bucket %s: %w", u.bucket, err)
	}

	logger.New().WithField("component", "s3-uploader").WithField("bucket", u.bucket).Info("creating S3 bucket")
	in := &s3.CreateBucketInput{Bucket: aws.String(u.bucket)}
	if u.region != "" && u.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(u.region),
		}
	}
	if _, err := u.client.CreateBucket(ctx, in); err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
	}
	u.bucketReady = true
	return nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
	}
	return bucket, key, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// TranscribeAPI is the subset of the Amazon Transcribe client used here.
type TranscribeAPI interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// AWSService adapts Amazon Transcribe batch jobs to Service.
type AWSService struct {
	client TranscribeAPI
}

func NewAWSService(client TranscribeAPI) *AWSService {
	return &AWSService{client: client}
}

func (s *AWSService) Submit(ctx context.Context, req SubmitRequest) error {
	_, err := s.client.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(req.JobName),
		LanguageCode:         ttypes.LanguageCode(req.Language),
		MediaFormat:          ttypes.MediaFormat(req.Format),
		Media:                &ttypes.Media{MediaFileUri: aws.String(req.MediaURI)},
	})
	if err == nil {
		return nil
	}
	var conflict *ttypes.ConflictException
	if errors.As(err, &conflict) || apiCode(err) == "ConflictException" {
		return fmt.Errorf("%w: %s: %w", types.ErrSubmissionConflict, req.JobName, err)
	}
	var bad *ttypes.BadRequestException
	if errors.As(err, &bad) {
		return backoff.Permanent(fmt.Errorf("start transcription job: %w", err))
	}
	return fmt.Errorf("start transcription job: %w", err)
}

func (s *AWSService) Poll(ctx context.Context, jobName string) (JobStatus, error) {
	out, err := s.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return JobStatus{}, fmt.Errorf("get transcription job: %w", err)
	}
	j := out.TranscriptionJob
	if j == nil {
		return JobStatus{}, fmt.Errorf("get transcription job %s: empty response", jobName)
	}
	switch j.TranscriptionJobStatus {
	case ttypes.TranscriptionJobStatusQueued:
		return JobStatus{State: types.JobSubmitted}, nil
	case ttypes.TranscriptionJobStatusInProgress:
		return JobStatus{State: types.JobInProgress}, nil
	case ttypes.TranscriptionJobStatusCompleted:
		st := JobStatus{State: types.JobCompleted}
		if j.Transcript != nil {
			st.ResultURI = aws.ToString(j.Transcript.TranscriptFileUri)
		}
		return st, nil
	case ttypes.TranscriptionJobStatusFailed:
		return JobStatus{State: types.JobFailed, FailureReason: aws.ToString(j.FailureReason)}, nil
	}
	return JobStatus{}, fmt.Errorf("job %s: unknown status %q", jobName, j.TranscriptionJobStatus)
}

func apiCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
