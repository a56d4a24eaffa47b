package tree

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/duopane/dirsync/internal/utils"
)

// s3API is the slice of the S3 client the tree needs. Narrow on purpose so
// tests can fake it.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Tree lists a bucket prefix one directory level at a time using the
// delimiter API. Directories are synthesized from common prefixes, and a
// pruned directory is simply never recursed into, so exclusions save the
// list calls for the whole subtree.
type S3Tree struct {
	api    s3API
	root   *Root
	bucket string
	prefix string // normalized: "" or "a/b/" with trailing slash
}

func NewS3Tree(api s3API, bucket, prefix string) *S3Tree {
	prefix = strings.Trim(prefix, "/")
	root := &Root{Kind: KindS3, Bucket: bucket, Prefix: prefix}
	if prefix != "" {
		prefix += "/"
	}
	return &S3Tree{
		api:    api,
		root:   root,
		bucket: bucket,
		prefix: prefix,
	}
}

// NewS3TreeFromConfig builds the S3 client for a root carrying credentials.
func NewS3TreeFromConfig(ctx context.Context, root *Root) (*S3Tree, error) {
	cfg := root.S3
	if cfg == nil {
		cfg = &S3Config{}
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	t := NewS3Tree(client, root.Bucket, root.Prefix)
	t.root = root
	return t, nil
}

func (t *S3Tree) Root() *Root {
	return t.root
}

func (t *S3Tree) List(ctx context.Context, skip SkipFunc, visit VisitFunc) error {
	// Breadth-first over synthesized directories. S3 returns keys in lexical
	// order within a level, so the whole listing is deterministic.
	queue := []string{""}
	first := true

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		listPrefix := t.prefix
		if dir != "" {
			listPrefix += dir + "/"
		}

		paginator := s3.NewListObjectsV2Paginator(t.api, &s3.ListObjectsV2Input{
			Bucket:    &t.bucket,
			Prefix:    &listPrefix,
			Delimiter: aws.String("/"),
		})

		for paginator.HasMorePages() {
			if err := ctx.Err(); err != nil {
				return err
			}

			page, err := paginator.NextPage(ctx)
			if err != nil {
				if first {
					return fmt.Errorf("%w: %s: %v", ErrRootUnreachable, t.root, err)
				}
				// One sub-prefix failed to list; skip its subtree.
				slog.Warn("s3 listing skipped prefix", "bucket", t.bucket, "prefix", listPrefix, "error", err)
				break
			}
			first = false

			for _, cp := range page.CommonPrefixes {
				rel := t.relKey(aws.ToString(cp.Prefix))
				if rel == "" {
					continue
				}
				if skip != nil && skip(rel, true) {
					continue
				}
				if err := visit(&Entry{Path: rel, IsDir: true}); err != nil {
					return err
				}
				queue = append(queue, rel)
			}

			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					// Zero-byte directory marker.
					continue
				}
				rel := t.relKey(key)
				if rel == "" {
					continue
				}
				if skip != nil && skip(rel, false) {
					continue
				}
				entry := &Entry{
					Path:    rel,
					Size:    aws.ToInt64(obj.Size),
					ModTime: aws.ToTime(obj.LastModified),
				}
				if err := visit(entry); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (t *S3Tree) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	key := t.prefix + relPath
	resp, err := t.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &t.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	return resp.Body, nil
}

func (t *S3Tree) relKey(key string) string {
	rel := strings.TrimPrefix(key, t.prefix)
	rel = strings.TrimSuffix(rel, "/")
	if rel == "" {
		return ""
	}
	return utils.NormPath(rel)
}
