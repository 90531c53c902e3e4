package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/finbuddy/lifeline/backend/internal/changefeed"
	"github.com/finbuddy/lifeline/backend/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB. Claim and session
// transitions are conditional updates so concurrent writers race at the
// storage layer, not in application code.
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

// Client exposes the underlying DynamoDB client so the streams poller
// can resolve stream ARNs for the same tables
func (s *DynamoDBStore) Client() *dynamodb.Client {
	return s.client
}

// NewStreamsClient builds a DynamoDB Streams client against the same
// endpoint and credentials as the store
func NewStreamsClient(ctx context.Context, cfg DynamoConfig) (*dynamodbstreams.Client, error) {
	if cfg.Mode == DynamoModeLocal {
		return dynamodbstreams.New(dynamodbstreams.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		}), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodbstreams.NewFromConfig(awsCfg), nil
}

// isConditionalCheckFailed reports whether err is a failed
// ConditionExpression (the expected shape of a lost race)
func isConditionalCheckFailed(err error) bool {
	var ccf *dbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func stringKey(name, value string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{
		name: &dbtypes.AttributeValueMemberS{Value: value},
	}
}

func (s *DynamoDBStore) SaveCase(c types.Case) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.config.CasesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetCase(caseID string) (*types.Case, error) {
	result, err := s.client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(s.config.CasesTable),
		Key:       stringKey("CaseID", caseID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var c types.Case
	if err := attributevalue.UnmarshalMap(result.Item, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case: %w", err)
	}
	return &c, nil
}

func (s *DynamoDBStore) ListCasesByStatus(status types.CaseStatus) ([]types.Case, error) {
	filter := expression.Name("Status").Equal(expression.Value(status))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.CasesTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cases: %w", err)
	}

	var cases []types.Case
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &cases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cases: %w", err)
	}
	return cases, nil
}

// ClaimCase performs the one true compare-and-swap in the system: a
// conditional update that succeeds only while the case is still
// waiting. Losers of a concurrent claim get ErrCaseConflict and should
// re-read the case for the winner's identity.
func (s *DynamoDBStore) ClaimCase(caseID, agentID string) (*types.Case, error) {
	cond := expression.Name("Status").Equal(expression.Value(types.CaseStatusWaiting))
	update := expression.
		Set(expression.Name("Status"), expression.Value(types.CaseStatusConnected)).
		Set(expression.Name("AgentID"), expression.Value(agentID)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now()))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.CasesTable),
		Key:                       stringKey("CaseID", caseID),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrCaseConflict
		}
		return nil, fmt.Errorf("failed to claim case: %w", err)
	}

	var c types.Case
	if err := attributevalue.UnmarshalMap(result.Attributes, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claimed case: %w", err)
	}
	return &c, nil
}

func (s *DynamoDBStore) CloseCase(caseID string) (*types.Case, error) {
	cond := expression.And(
		expression.AttributeExists(expression.Name("CaseID")),
		expression.Name("Status").NotEqual(expression.Value(types.CaseStatusClosed)),
	)
	update := expression.
		Set(expression.Name("Status"), expression.Value(types.CaseStatusClosed)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now()))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.CasesTable),
		Key:                       stringKey("CaseID", caseID),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to close case: %w", err)
	}

	var c types.Case
	if err := attributevalue.UnmarshalMap(result.Attributes, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal closed case: %w", err)
	}
	return &c, nil
}

// ReopenCase returns a claimed case to the waiting feed, clearing the
// agent. Conditional on connected, so a closed case stays closed.
func (s *DynamoDBStore) ReopenCase(caseID string) (*types.Case, error) {
	cond := expression.Name("Status").Equal(expression.Value(types.CaseStatusConnected))
	update := expression.
		Set(expression.Name("Status"), expression.Value(types.CaseStatusWaiting)).
		Set(expression.Name("AgentID"), expression.Value("")).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now()))
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.CasesTable),
		Key:                       stringKey("CaseID", caseID),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to reopen case: %w", err)
	}

	var c types.Case
	if err := attributevalue.UnmarshalMap(result.Attributes, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reopened case: %w", err)
	}
	return &c, nil
}

func (s *DynamoDBStore) SaveAgentPresence(a types.AgentPresence) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("failed to marshal agent presence: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AgentsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save agent presence: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetAgentPresence(agentID string) (*types.AgentPresence, error) {
	result, err := s.client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(s.config.AgentsTable),
		Key:       stringKey("AgentID", agentID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get agent presence: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var a types.AgentPresence
	if err := attributevalue.UnmarshalMap(result.Item, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent presence: %w", err)
	}
	return &a, nil
}

func (s *DynamoDBStore) ListAgentPresence() ([]types.AgentPresence, error) {
	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName: aws.String(s.config.AgentsTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan agents: %w", err)
	}

	var agents []types.AgentPresence
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &agents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agents: %w", err)
	}
	return agents, nil
}

func (s *DynamoDBStore) SaveMessage(m types.Message) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.config.MessagesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ListRecentMessages(userID string, since time.Time) ([]types.Message, error) {
	keyCond := expression.Key("UserID").Equal(expression.Value(userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(context.Background(), &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.MessagesTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var all []types.Message
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	// Filter by time client-side; RFC3339Nano strings don't compare
	// cleanly at sub-second precision inside DynamoDB
	recent := make([]types.Message, 0, len(all))
	for _, m := range all {
		if m.CreatedAt.After(since) {
			recent = append(recent, m)
		}
	}
	return recent, nil
}

func (s *DynamoDBStore) StampEscalated(userID, roomName string, since time.Time) (int, error) {
	recent, err := s.ListRecentMessages(userID, since)
	if err != nil {
		return 0, err
	}

	update := expression.
		Set(expression.Name("Escalated"), expression.Value(true)).
		Set(expression.Name("RoomName"), expression.Value(roomName))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	stamped := 0
	for _, m := range recent {
		if m.Escalated {
			continue
		}
		_, err := s.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
			TableName: aws.String(s.config.MessagesTable),
			Key: map[string]dbtypes.AttributeValue{
				"UserID":    &dbtypes.AttributeValueMemberS{Value: m.UserID},
				"MessageID": &dbtypes.AttributeValueMemberS{Value: m.MessageID},
			},
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err != nil {
			return stamped, fmt.Errorf("failed to stamp message %s: %w", m.MessageID, err)
		}
		stamped++
	}
	return stamped, nil
}

func (s *DynamoDBStore) SaveSession(sr types.SessionRequest) error {
	item, err := attributevalue.MarshalMap(sr)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.config.SessionsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetSession(sessionID string) (*types.SessionRequest, error) {
	result, err := s.client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(s.config.SessionsTable),
		Key:       stringKey("SessionID", sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var sr types.SessionRequest
	if err := attributevalue.UnmarshalMap(result.Item, &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sr, nil
}

// GetSessionByRoom finds a session by its room name using a scan with
// filter. For production volume, a GSI on RoomName would be more
// efficient.
func (s *DynamoDBStore) GetSessionByRoom(roomName string) (*types.SessionRequest, error) {
	filter := expression.Name("RoomName").Equal(expression.Value(roomName))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.SessionsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, ErrNotFound
	}

	var sr types.SessionRequest
	if err := attributevalue.UnmarshalMap(result.Items[0], &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sr, nil
}

func (s *DynamoDBStore) ListSessionsByStatus(status types.SessionStatus) ([]types.SessionRequest, error) {
	filter := expression.Name("Status").Equal(expression.Value(status))
	return s.scanSessions(filter)
}

func (s *DynamoDBStore) ListSessionsByAgent(agentID string) ([]types.SessionRequest, error) {
	filter := expression.Name("AgentID").Equal(expression.Value(agentID))
	return s.scanSessions(filter)
}

func (s *DynamoDBStore) scanSessions(filter expression.ConditionBuilder) ([]types.SessionRequest, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.SessionsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	var sessions []types.SessionRequest
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return sessions, nil
}

func (s *DynamoDBStore) AssignSessionAgent(sessionID, agentID string) (*types.SessionRequest, error) {
	cond := expression.Name("Status").Equal(expression.Value(types.SessionStatusPending))
	update := expression.
		Set(expression.Name("AgentID"), expression.Value(agentID)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now()))
	return s.updateSession(sessionID, cond, update)
}

func (s *DynamoDBStore) TransitionSession(sessionID string, tr SessionTransition) (*types.SessionRequest, error) {
	if len(tr.From) == 0 {
		return nil, ErrInvalidTransition
	}

	ops := make([]expression.OperandBuilder, len(tr.From))
	for i, from := range tr.From {
		ops[i] = expression.Value(from)
	}
	var cond expression.ConditionBuilder
	if len(ops) == 1 {
		cond = expression.Name("Status").Equal(ops[0])
	} else {
		cond = expression.Name("Status").In(ops[0], ops[1:]...)
	}

	update := expression.
		Set(expression.Name("Status"), expression.Value(tr.To)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now()))
	if tr.AgentID != "" {
		update = update.Set(expression.Name("AgentID"), expression.Value(tr.AgentID))
	}
	if tr.ConnectedAt != nil {
		update = update.Set(expression.Name("ConnectedAt"), expression.Value(*tr.ConnectedAt))
	}
	if tr.EndedAt != nil {
		update = update.Set(expression.Name("EndedAt"), expression.Value(*tr.EndedAt))
	}
	if tr.CallDuration != nil {
		update = update.Set(expression.Name("CallDuration"), expression.Value(*tr.CallDuration))
	}

	return s.updateSession(sessionID, cond, update)
}

func (s *DynamoDBStore) updateSession(sessionID string, cond expression.ConditionBuilder, update expression.UpdateBuilder) (*types.SessionRequest, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.UpdateItem(context.Background(), &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.SessionsTable),
		Key:                       stringKey("SessionID", sessionID),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	var sr types.SessionRequest
	if err := attributevalue.UnmarshalMap(result.Attributes, &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sr, nil
}

// NewStore creates the appropriate store based on configuration. The
// bus is only wired directly for the memory store; DynamoDB changes
// reach the bus through the streams poller instead.
func NewStore(ctx context.Context, bus *changefeed.Bus, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory store")
		return NewMemoryStore(bus), nil
	}
}

// TruncateAll deletes all items from every table (scan + batch delete)
func (s *DynamoDBStore) TruncateAll() error {
	for _, table := range tableDefs(s.config) {
		if err := s.truncateTable(table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) truncateTable(table tableDef) error {
	projection := "#pk"
	names := map[string]string{"#pk": table.pk}
	if table.sk != "" {
		projection = "#pk, #sk"
		names["#sk"] = table.sk
	}

	var lastKey map[string]dbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(table.name),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
			Limit:                    aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(context.Background(), input)
		if err != nil {
			return err
		}

		// Batch delete in groups of 25
		for i := 0; i < len(result.Items); i += 25 {
			end := i + 25
			if end > len(result.Items) {
				end = len(result.Items)
			}

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				key := map[string]dbtypes.AttributeValue{table.pk: item[table.pk]}
				if table.sk != "" {
					key[table.sk] = item[table.sk]
				}
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{Key: key},
				})
			}

			_, err := s.client.BatchWriteItem(context.Background(), &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}
