// Package dynamosink persists health reports to a DynamoDB table.
//
// Items are keyed by device_id (partition) and the RFC3339Nano receive time
// (sort) and carry an expires_at attribute for DynamoDB TTL. The device clock
// is kept as the plain timestamp attribute: device clocks are not synchronized
// and repeat at seconds resolution, so they cannot key an item.
package dynamosink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/machineguard/machineguard/monitor/internal/config"
	"github.com/machineguard/machineguard/monitor/internal/shipper"
	"github.com/machineguard/machineguard/pkg/types"
)

// Attribute names of the key schema.
const (
	AttrDeviceID  = "device_id"
	AttrTimestamp = "ts"
	AttrExpiresAt = "expires_at"
)

const defaultTTL = 24 * time.Hour

// putter is the subset of the DynamoDB client used by Sink.
type putter interface {
	PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error)
}

// Sink writes reports to DynamoDB. It implements shipper.Sender.
type Sink struct {
	table string
	ttl   time.Duration
	db    putter
}

// New creates a Sink using a session for cfg.Region.
func New(cfg config.DynamoConfig) (*Sink, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamosink: table is required")
	}
	awsCfg := &aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("dynamosink: new session: %w", err)
	}
	return newSink(cfg, dynamodb.New(sess)), nil
}

func newSink(cfg config.DynamoConfig, db putter) *Sink {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Sink{table: cfg.Table, ttl: ttl, db: db}
}

// Item builds the DynamoDB item for r.
func (s *Sink) Item(r *types.HealthReport) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(r)
	if err != nil {
		return nil, err
	}
	received := r.ReceivedAt
	if received.IsZero() {
		received = r.Timestamp
	}
	item[AttrDeviceID] = &dynamodb.AttributeValue{S: aws.String(r.DeviceID)}
	item[AttrTimestamp] = &dynamodb.AttributeValue{S: aws.String(received.UTC().Format(time.RFC3339Nano))}
	item[AttrExpiresAt] = &dynamodb.AttributeValue{
		N: aws.String(strconv.FormatInt(received.Add(s.ttl).Unix(), 10)),
	}
	return item, nil
}

// Send writes r. Validation and missing-table errors are permanent.
func (s *Sink) Send(ctx context.Context, r *types.HealthReport) error {
	item, err := s.Item(r)
	if err != nil {
		return shipper.Permanent(fmt.Errorf("dynamosink: marshal report: %w", err))
	}
	_, err = s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		err = fmt.Errorf("dynamosink: put %s: %w", s.table, err)
		if isPermanent(err) {
			return shipper.Permanent(err)
		}
		return err
	}
	return nil
}

func isPermanent(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case "ValidationException", dynamodb.ErrCodeResourceNotFoundException:
		return true
	}
	return false
}
