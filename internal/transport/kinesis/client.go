package kinesis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// ClientConfig configures the SDK client behind the transport.
type ClientConfig struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. http://localhost:4566 for
	// LocalStack.
	Endpoint string
	// MaxAttempts is the SDK's own retry budget for a single PutRecords call.
	// Zero keeps the SDK default.
	MaxAttempts    int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// NewClient loads the default AWS configuration chain and builds a Kinesis
// client from it.
func NewClient(ctx context.Context, cfg ClientConfig) (*kinesis.Client, error) {
	httpClient := awshttp.NewBuildableClient().
		WithTimeout(cfg.RequestTimeout).
		WithDialerOptions(func(d *net.Dialer) {
			if cfg.ConnectTimeout > 0 {
				d.Timeout = cfg.ConnectTimeout
			}
		})

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
