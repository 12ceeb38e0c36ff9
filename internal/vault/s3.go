package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fmeta-go/internal/config"
	"fmeta-go/internal/meta"
)

// versionMetadataKey is the S3 user metadata key holding a metadata item's version tag.
const versionMetadataKey = "fmeta-version"

// S3Vault stores archives and metadata snapshots in an S3 bucket:
//
//	<prefix>/archives/<checksum>
//	<prefix>/instances/<instance_id>/<name>
//
// Metadata version tags are kept as object user metadata.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault builds a vault from cfg. Without static keys the default AWS
// credential chain is used. A custom endpoint switches to path-style addressing
// for S3-compatible stores.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func newS3Vault(name, bucket, prefix string, client *s3.Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (v *S3Vault) archiveKey(checksum string) string {
	return path.Join(v.prefix, "archives", checksum)
}

func (v *S3Vault) itemKey(instanceID, name string) string {
	return path.Join(v.prefix, "instances", instanceID, name)
}

// PutContent uploads an archive under its checksum. An existing archive is
// kept; r is drained and its size checked either way.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	if err := validName(checksum); err != nil {
		return err
	}
	ctx := context.Background()
	key := v.archiveKey(checksum)

	exists, err := v.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}
	return v.upload(ctx, key, r, size, nil)
}

// GetContent streams the archive stored under checksum to w.
func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	if err := validName(checksum); err != nil {
		return err
	}
	return v.download(context.Background(), v.archiveKey(checksum), w, "content not found: "+checksum)
}

// PutMetadata uploads a named metadata item for an instance with its version tag.
func (v *S3Vault) PutMetadata(instanceID, name string, r io.Reader, size int64, version int64) error {
	if err := validName(instanceID); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	md := map[string]string{versionMetadataKey: strconv.FormatInt(version, 10)}
	return v.upload(context.Background(), v.itemKey(instanceID, name), r, size, md)
}

// GetMetadataVersion returns the version tag of a metadata item, or 0 if none was stored.
func (v *S3Vault) GetMetadataVersion(instanceID, name string) (int64, error) {
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.itemKey(instanceID, name)),
	})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checking metadata %q: %w", name, err)
	}
	tag, ok := out.Metadata[versionMetadataKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(tag, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata streams a named metadata item for an instance to w.
func (v *S3Vault) GetMetadata(instanceID, name string, w io.Writer) error {
	return v.download(context.Background(), v.itemKey(instanceID, name), w,
		fmt.Sprintf("metadata %q not found for instance %s", name, instanceID))
}

// ValidateSetup checks that the bucket is reachable with the configured credentials.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) exists(ctx context.Context, key string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return true, nil
}

func (v *S3Vault) upload(ctx context.Context, key string, r io.Reader, size int64, md map[string]string) error {
	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     cr,
		Metadata: md,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if cr.n != size {
		// Don't leave a truncated object behind under a content address.
		_, _ = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

func (v *S3Vault) download(ctx context.Context, key string, w io.Writer, notFoundMsg string) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", notFoundMsg, meta.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()
	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ meta.Vault = (*S3Vault)(nil)
