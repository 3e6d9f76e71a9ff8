package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/goliatone/go-automation"
)

// ObjectPutter is the slice of *minio.Client used by the exporter.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOConfig holds the connection settings of an S3 compatible store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// NewMinIOClient builds a client for cfg.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint required")
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBucket creates bucket when it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// MinIOExporter stores each execution as bucket/prefix/<rule>/<execution>.json.
type MinIOExporter struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewMinIOExporter(client ObjectPutter, bucket, prefix string) *MinIOExporter {
	return &MinIOExporter{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: 15 * time.Second,
	}
}

// ObjectKey returns the object name used for exec.
func (e *MinIOExporter) ObjectKey(exec automation.Execution) string {
	return path.Join(e.prefix, exec.RuleID, exec.ID+".json")
}

func (e *MinIOExporter) Export(ctx context.Context, exec automation.Execution) error {
	body, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}

	putCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	_, err = e.client.PutObject(
		putCtx,
		e.bucket,
		e.ObjectKey(exec),
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"rule-id": exec.RuleID,
				"status":  exec.Status.String(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("put execution %s: %w", exec.ID, err)
	}
	return nil
}
