//go:build integration
// +build integration

package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittocore/pkg/blockdev"
	devtesting "github.com/marmos91/dittocore/pkg/blockdev/testing"
	"github.com/stretchr/testify/require"
)

// TestS3Device_Integration runs the device suite against a real
// S3-compatible service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/blockdev/s3/...
func TestS3Device_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucketName := "dittocore-test-disk"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err)

	suite := &devtesting.DeviceTestSuite{
		NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
			dev, err := NewS3Device(ctx, S3DeviceConfig{
				Client:    client,
				Bucket:    bucketName,
				KeyPrefix: t.Name() + "/",
				Sectors:   sectors,
			})
			require.NoError(t, err)
			return dev
		},
	}

	suite.Run(t)
}
