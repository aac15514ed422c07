package object

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// Download is a streamed object body. Body is throttled to the owner's
// plan download speed; the caller must Close it.
type Download struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// Download streams the object, rate-limited per the owner's subscription.
// Range requests pass through untouched so resumable clients keep working.
func (s *Service) Download(ctx context.Context, owner, key, byteRange string) (*Download, error) {
	full := pathutil.KeyBuilder(owner, key)

	in := &s3.GetObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(full),
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	obj, err := s.gw.Client().GetObject(ctx, in)
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, fault.NotFoundf("file %q not found", key)
		}
		return nil, fault.Internalf(err, "download %q", key)
	}

	speed := s.usage.DownloadSpeedBytesPerSec(ctx, owner)
	return &Download{
		Body:        throttle(ctx, obj.Body, speed),
		Name:        pathutil.BaseName(key),
		ContentType: objmeta.MimeTypeFor(full, aws.ToString(obj.ContentType)),
		Size:        aws.ToInt64(obj.ContentLength),
	}, nil
}

// throttledReader paces reads through a token bucket sized to the plan
// speed. Bursts up to one second of budget so small files finish in one
// round trip.
type throttledReader struct {
	ctx     context.Context
	src     io.ReadCloser
	limiter *rate.Limiter
}

func throttle(ctx context.Context, src io.ReadCloser, bytesPerSec int64) io.ReadCloser {
	if bytesPerSec <= 0 {
		return src
	}
	return &throttledReader{
		ctx:     ctx,
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)),
	}
}

func (r *throttledReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.src.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *throttledReader) Close() error { return r.src.Close() }
