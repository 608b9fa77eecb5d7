// Package uploader implements the uploader worker: streaming the staged
// archive to an S3-compatible network endpoint for the Net destination
// branch of UploadOrCmd, reporting UploadStatus progress ticks along the
// way. It is never a participant in a USB or Cmd transfer.
package uploader

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// Worker answers uploader's Upload request by streaming the archive at
// archivePath to the configured S3 bucket, keyed by the transfer's user id.
type Worker struct {
	cfg         config.NetworkConfig
	archivePath string
	client      *s3.Client
}

// New builds an uploader Worker from cfg, resolving the AWS SDK's default
// credential chain unless cfg supplies a static access key pair.
func New(ctx context.Context, cfg config.NetworkConfig, archivePath string) (*Worker, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("uploader: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Worker{cfg: cfg, archivePath: archivePath, client: client}, nil
}

// Handlers returns uploader's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeUpload: w.handleUpload,
	}
}

func (w *Worker) handleUpload(req proto.Envelope, out io.Writer) error {
	var body proto.Upload
	if err := req.Decode(&body); err != nil {
		return err
	}

	f, err := os.Open(w.archivePath)
	if err != nil {
		return fmt.Errorf("uploader: open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("uploader: stat archive: %w", err)
	}

	key := body.ID + ".tar"
	if body.ID == "" {
		key = "usbsas.tar"
	}
	reader := &progressReader{
		r:     f,
		total: uint64(info.Size()),
		out:   out,
	}
	if _, err := w.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(w.cfg.Bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(info.Size()),
	}); err != nil {
		return fmt.Errorf("uploader: put object %s: %w", key, err)
	}

	return worker.Respond(out, proto.TypeUploadResp, proto.UploadResp{})
}

// progressReader emits an UploadStatus envelope roughly once per megabyte
// read, interleaved on the response pipe ahead of the final UploadResp.
type progressReader struct {
	r           io.Reader
	total       uint64
	current     uint64
	sinceStatus uint64
	out         io.Writer
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.current += uint64(n)
		p.sinceStatus += uint64(n)
		if p.sinceStatus >= 1<<20 {
			p.sinceStatus = 0
			_ = worker.Respond(p.out, proto.TypeUploadStatus, proto.UploadStatus{
				CurrentSize: p.current,
				TotalSize:   p.total,
			})
		}
	}
	return n, err
}
