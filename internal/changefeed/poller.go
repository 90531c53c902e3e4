package changefeed

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	streamav "github.com/aws/aws-sdk-go-v2/feature/dynamodbstreams/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	pollInterval         = 1 * time.Second
	shardRefreshInterval = 1 * time.Minute
	recordsPerPoll       = 100
	streamWaitDelay      = 2 * time.Second
)

// Poller tails the DynamoDB Streams of the application tables and
// republishes row changes on the in-process bus. Iterators start at
// LATEST: consumers rebuild current state from table scans on startup
// and only need changes from then on.
type Poller struct {
	db      *dynamodb.Client
	streams *dynamodbstreams.Client
	tables  map[string]string // table name -> event table label
	bus     *Bus
	logger  zerolog.Logger
}

// NewPoller creates a streams poller for the given tables. The map
// value is the label attached to published events ("cases", "agents",
// "sessions").
func NewPoller(db *dynamodb.Client, streams *dynamodbstreams.Client, tables map[string]string, bus *Bus, logger zerolog.Logger) *Poller {
	return &Poller{
		db:      db,
		streams: streams,
		tables:  tables,
		bus:     bus,
		logger:  logger.With().Str("component", "stream_poller").Logger(),
	}
}

// Start launches one polling goroutine per table and returns. The
// goroutines stop when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	for tableName, label := range p.tables {
		go p.pollTable(ctx, tableName, label)
	}
}

func (p *Poller) pollTable(ctx context.Context, tableName, label string) {
	streamArn, err := p.waitForStream(ctx, tableName)
	if err != nil {
		p.logger.Error().Err(err).Str("table", tableName).Msg("stream unavailable, poller stopped")
		return
	}

	p.logger.Info().Str("table", tableName).Msg("tailing table stream")

	// shardID -> current iterator
	iterators := make(map[string]string)
	if err := p.refreshShards(ctx, streamArn, iterators); err != nil {
		p.logger.Error().Err(err).Str("table", tableName).Msg("failed to list shards")
	}

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(shardRefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-refresh.C:
			if err := p.refreshShards(ctx, streamArn, iterators); err != nil {
				p.logger.Warn().Err(err).Str("table", tableName).Msg("shard refresh failed")
			}

		case <-poll.C:
			for shardID, iterator := range iterators {
				next, err := p.drainShard(ctx, label, iterator)
				if err != nil {
					if isIteratorGone(err) {
						// Re-acquire at LATEST; a gap here only delays
						// consumers until the next write
						fresh, serr := p.shardIterator(ctx, streamArn, shardID)
						if serr != nil {
							delete(iterators, shardID)
							continue
						}
						iterators[shardID] = fresh
						continue
					}
					p.logger.Warn().Err(err).Str("table", tableName).Msg("get records failed")
					continue
				}
				if next == "" {
					// Shard closed
					delete(iterators, shardID)
					continue
				}
				iterators[shardID] = next
			}
		}
	}
}

// waitForStream resolves the table's latest stream ARN, waiting for
// the stream to come up after table creation
func (p *Poller) waitForStream(ctx context.Context, tableName string) (string, error) {
	for {
		out, err := p.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err == nil && out.Table != nil && out.Table.LatestStreamArn != nil {
			return *out.Table.LatestStreamArn, nil
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("table", tableName).Msg("describe table failed, retrying")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(streamWaitDelay):
		}
	}
}

func (p *Poller) refreshShards(ctx context.Context, streamArn string, iterators map[string]string) error {
	out, err := p.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
		StreamArn: aws.String(streamArn),
	})
	if err != nil {
		return err
	}

	for _, shard := range out.StreamDescription.Shards {
		if shard.ShardId == nil {
			continue
		}
		if _, known := iterators[*shard.ShardId]; known {
			continue
		}
		iterator, err := p.shardIterator(ctx, streamArn, *shard.ShardId)
		if err != nil {
			p.logger.Warn().Err(err).Str("shard", *shard.ShardId).Msg("failed to open shard")
			continue
		}
		iterators[*shard.ShardId] = iterator
	}
	return nil
}

func (p *Poller) shardIterator(ctx context.Context, streamArn, shardID string) (string, error) {
	out, err := p.streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(streamArn),
		ShardId:           aws.String(shardID),
		ShardIteratorType: streamtypes.ShardIteratorTypeLatest,
	})
	if err != nil {
		return "", err
	}
	if out.ShardIterator == nil {
		return "", errors.New("no shard iterator returned")
	}
	return *out.ShardIterator, nil
}

// drainShard reads one batch of records and publishes them. Returns
// the next iterator, or "" when the shard is closed.
func (p *Poller) drainShard(ctx context.Context, label, iterator string) (string, error) {
	out, err := p.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
		ShardIterator: aws.String(iterator),
		Limit:         aws.Int32(recordsPerPoll),
	})
	if err != nil {
		return "", err
	}

	for _, record := range out.Records {
		ev, ok := p.decode(label, record)
		if !ok {
			continue
		}
		p.bus.Publish(ev)
	}

	if out.NextShardIterator == nil {
		return "", nil
	}
	return *out.NextShardIterator, nil
}

func (p *Poller) decode(label string, record streamtypes.Record) (Event, bool) {
	if record.Dynamodb == nil {
		return Event{}, false
	}

	// REMOVE records carry no new image
	image := record.Dynamodb.NewImage
	if len(image) == 0 {
		image = record.Dynamodb.OldImage
	}
	if len(image) == 0 {
		return Event{}, false
	}

	ev := Event{Table: label, Op: Op(record.EventName)}

	var err error
	switch label {
	case "cases":
		var c types.Case
		if err = streamav.UnmarshalMap(image, &c); err == nil {
			ev.Case = &c
		}
	case "sessions":
		var sr types.SessionRequest
		if err = streamav.UnmarshalMap(image, &sr); err == nil {
			ev.Session = &sr
		}
	case "agents":
		var a types.AgentPresence
		if err = streamav.UnmarshalMap(image, &a); err == nil {
			ev.Agent = &a
		}
	default:
		return Event{}, false
	}

	if err != nil {
		p.logger.Warn().Err(err).Str("table", label).Msg("failed to decode stream record")
		return Event{}, false
	}
	return ev, true
}

func isIteratorGone(err error) bool {
	var expired *streamtypes.ExpiredIteratorException
	var trimmed *streamtypes.TrimmedDataAccessException
	return errors.As(err, &expired) || errors.As(err, &trimmed)
}
