package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/tcmartin/canvasrunner/pkg/models"
)

// DynamoDBProvider implements the StorageProvider interface using DynamoDB
type DynamoDBProvider struct {
	client      dynamodbiface.DynamoDBAPI
	canvasStore *DynamoDBCanvasStore
	taskStore   *DynamoDBTaskStore
	batchStore  *DynamoDBBatchStore
	tablePrefix string
}

// DynamoDBProviderConfig contains configuration for the DynamoDB provider
type DynamoDBProviderConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// NewDynamoDBProvider creates a new DynamoDB storage provider
func NewDynamoDBProvider(config DynamoDBProviderConfig) (*DynamoDBProvider, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBProviderWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBProviderWithClient creates a new DynamoDB storage provider with a custom client
// This is primarily used for testing with mock clients
func NewDynamoDBProviderWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBProvider {
	provider := &DynamoDBProvider{
		client:      client,
		tablePrefix: tablePrefix,
	}

	provider.canvasStore = NewDynamoDBCanvasStore(client, tablePrefix)
	provider.taskStore = NewDynamoDBTaskStore(client, tablePrefix)
	provider.batchStore = NewDynamoDBBatchStore(client, tablePrefix)

	return provider
}

// Initialize sets up the storage backend
func (p *DynamoDBProvider) Initialize() error {
	if err := p.canvasStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize canvas store: %w", err)
	}

	if err := p.taskStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize task store: %w", err)
	}

	if err := p.batchStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize batch store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// GetCanvasStore returns a store for canvases, nodes, edges and handles
func (p *DynamoDBProvider) GetCanvasStore() CanvasStore {
	return p.canvasStore
}

// GetTaskStore returns a store for task records
func (p *DynamoDBProvider) GetTaskStore() TaskStore {
	return p.taskStore
}

// GetBatchStore returns a store for task batches
func (p *DynamoDBProvider) GetBatchStore() BatchStore {
	return p.batchStore
}

// createTableIfNotExists provisions one table and waits for it to be ready
func createTableIfNotExists(client dynamodbiface.DynamoDBAPI, input *dynamodb.CreateTableInput) error {
	_, err := client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: input.TableName,
	})

	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
		if _, err := client.CreateTable(input); err != nil {
			return fmt.Errorf("failed to create table %s: %w", aws.StringValue(input.TableName), err)
		}

		err = client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
			TableName: input.TableName,
		})
		if err != nil {
			return fmt.Errorf("failed to wait for table creation: %w", err)
		}

		return nil
	}

	return fmt.Errorf("failed to check if table exists: %w", err)
}

// DynamoDBCanvasStore implements the CanvasStore interface using DynamoDB
type DynamoDBCanvasStore struct {
	client      dynamodbiface.DynamoDBAPI
	canvasTable string
	nodeTable   string
	edgeTable   string
	handleTable string
	canvasIndex string
}

// NewDynamoDBCanvasStore creates a new DynamoDB canvas store
func NewDynamoDBCanvasStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBCanvasStore {
	return &DynamoDBCanvasStore{
		client:      client,
		canvasTable: tablePrefix + "canvases",
		nodeTable:   tablePrefix + "nodes",
		edgeTable:   tablePrefix + "edges",
		handleTable: tablePrefix + "handles",
		canvasIndex: "canvas-index",
	}
}

// Initialize creates the DynamoDB tables if they don't exist
func (s *DynamoDBCanvasStore) Initialize() error {
	if err := createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.canvasTable),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("CanvasID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("CanvasID"), KeyType: aws.String("HASH")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}); err != nil {
		return err
	}

	if err := createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.nodeTable),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("NodeID"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("CanvasID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("NodeID"), KeyType: aws.String("HASH")},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{
			{
				IndexName: aws.String(s.canvasIndex),
				KeySchema: []*dynamodb.KeySchemaElement{
					{AttributeName: aws.String("CanvasID"), KeyType: aws.String("HASH")},
					{AttributeName: aws.String("NodeID"), KeyType: aws.String("RANGE")},
				},
				Projection: &dynamodb.Projection{ProjectionType: aws.String("ALL")},
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}); err != nil {
		return err
	}

	if err := createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.edgeTable),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("CanvasID"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("EdgeID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("CanvasID"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("EdgeID"), KeyType: aws.String("RANGE")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}); err != nil {
		return err
	}

	return createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.handleTable),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("NodeID"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("HandleID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("NodeID"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("HandleID"), KeyType: aws.String("RANGE")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
}

// dynamoDBCanvasItem represents a canvas item in DynamoDB
type dynamoDBCanvasItem struct {
	CanvasID    string `json:"CanvasID"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

// dynamoDBNodeItem represents a node item in DynamoDB. Config and result
// travel as JSON strings.
type dynamoDBNodeItem struct {
	NodeID    string  `json:"NodeID"`
	CanvasID  string  `json:"CanvasID"`
	Type      string  `json:"Type"`
	Name      string  `json:"Name"`
	Config    string  `json:"Config"`
	Result    string  `json:"Result"`
	PositionX float64 `json:"PositionX"`
	PositionY float64 `json:"PositionY"`
	CreatedAt int64   `json:"CreatedAt"`
	UpdatedAt int64   `json:"UpdatedAt"`
}

func nodeToItem(node models.Node) (dynamoDBNodeItem, error) {
	item := dynamoDBNodeItem{
		NodeID:    node.ID,
		CanvasID:  node.CanvasID,
		Type:      node.Type,
		Name:      node.Name,
		PositionX: node.PositionX,
		PositionY: node.PositionY,
		CreatedAt: node.CreatedAt.Unix(),
		UpdatedAt: node.UpdatedAt.Unix(),
	}

	if node.Config != nil {
		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return item, fmt.Errorf("failed to marshal node config: %w", err)
		}
		item.Config = string(configJSON)
	}
	if node.Result != nil {
		resultJSON, err := json.Marshal(node.Result)
		if err != nil {
			return item, fmt.Errorf("failed to marshal node result: %w", err)
		}
		item.Result = string(resultJSON)
	}

	return item, nil
}

func itemToNode(item dynamoDBNodeItem) (models.Node, error) {
	node := models.Node{
		ID:        item.NodeID,
		CanvasID:  item.CanvasID,
		Type:      item.Type,
		Name:      item.Name,
		PositionX: item.PositionX,
		PositionY: item.PositionY,
		CreatedAt: time.Unix(item.CreatedAt, 0),
		UpdatedAt: time.Unix(item.UpdatedAt, 0),
	}

	if item.Config != "" {
		if err := json.Unmarshal([]byte(item.Config), &node.Config); err != nil {
			return node, fmt.Errorf("failed to unmarshal node config: %w", err)
		}
	}
	if item.Result != "" {
		if err := json.Unmarshal([]byte(item.Result), &node.Result); err != nil {
			return node, fmt.Errorf("failed to unmarshal node result: %w", err)
		}
	}

	return node, nil
}

// SaveCanvas persists a canvas
func (s *DynamoDBCanvasStore) SaveCanvas(canvas models.Canvas) error {
	av, err := dynamodbattribute.MarshalMap(dynamoDBCanvasItem{
		CanvasID:    canvas.ID,
		Name:        canvas.Name,
		Description: canvas.Description,
		CreatedAt:   canvas.CreatedAt.Unix(),
		UpdatedAt:   canvas.UpdatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal canvas item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.canvasTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save canvas: %w", err)
	}

	return nil
}

// GetCanvas retrieves a canvas
func (s *DynamoDBCanvasStore) GetCanvas(canvasID string) (models.Canvas, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.canvasTable),
		Key: map[string]*dynamodb.AttributeValue{
			"CanvasID": {S: aws.String(canvasID)},
		},
	})
	if err != nil {
		return models.Canvas{}, fmt.Errorf("failed to get canvas: %w", err)
	}

	if result.Item == nil {
		return models.Canvas{}, ErrCanvasNotFound
	}

	var item dynamoDBCanvasItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return models.Canvas{}, fmt.Errorf("failed to unmarshal canvas item: %w", err)
	}

	return models.Canvas{
		ID:          item.CanvasID,
		Name:        item.Name,
		Description: item.Description,
		CreatedAt:   time.Unix(item.CreatedAt, 0),
		UpdatedAt:   time.Unix(item.UpdatedAt, 0),
	}, nil
}

// ListCanvases returns all canvases
func (s *DynamoDBCanvasStore) ListCanvases() ([]models.Canvas, error) {
	result, err := s.client.Scan(&dynamodb.ScanInput{
		TableName: aws.String(s.canvasTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list canvases: %w", err)
	}

	canvases := make([]models.Canvas, 0, len(result.Items))
	for _, raw := range result.Items {
		var item dynamoDBCanvasItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal canvas item: %w", err)
		}
		canvases = append(canvases, models.Canvas{
			ID:          item.CanvasID,
			Name:        item.Name,
			Description: item.Description,
			CreatedAt:   time.Unix(item.CreatedAt, 0),
			UpdatedAt:   time.Unix(item.UpdatedAt, 0),
		})
	}

	return canvases, nil
}

// DeleteCanvas removes a canvas and its nodes, edges and handles
func (s *DynamoDBCanvasStore) DeleteCanvas(canvasID string) error {
	if _, err := s.GetCanvas(canvasID); err != nil {
		return err
	}

	nodes, err := s.queryNodes(canvasID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if err := s.DeleteNode(node.ID); err != nil && err != ErrNodeNotFound {
			return err
		}
	}

	edges, err := s.queryEdges(canvasID)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		_, err = s.client.DeleteItem(&dynamodb.DeleteItemInput{
			TableName: aws.String(s.edgeTable),
			Key: map[string]*dynamodb.AttributeValue{
				"CanvasID": {S: aws.String(canvasID)},
				"EdgeID":   {S: aws.String(edge.ID)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
	}

	_, err = s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.canvasTable),
		Key: map[string]*dynamodb.AttributeValue{
			"CanvasID": {S: aws.String(canvasID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete canvas: %w", err)
	}

	return nil
}

// SaveNode persists a node
func (s *DynamoDBCanvasStore) SaveNode(node models.Node) error {
	item, err := nodeToItem(node)
	if err != nil {
		return err
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal node item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.nodeTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}

	return nil
}

// GetNode retrieves a node
func (s *DynamoDBCanvasStore) GetNode(nodeID string) (models.Node, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.nodeTable),
		Key: map[string]*dynamodb.AttributeValue{
			"NodeID": {S: aws.String(nodeID)},
		},
	})
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to get node: %w", err)
	}

	if result.Item == nil {
		return models.Node{}, ErrNodeNotFound
	}

	var item dynamoDBNodeItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return models.Node{}, fmt.Errorf("failed to unmarshal node item: %w", err)
	}

	return itemToNode(item)
}

// DeleteNode removes a node
func (s *DynamoDBCanvasStore) DeleteNode(nodeID string) error {
	if _, err := s.GetNode(nodeID); err != nil {
		return err
	}

	handles, err := s.queryHandles(nodeID)
	if err != nil {
		return err
	}

	for _, handle := range handles {
		_, err = s.client.DeleteItem(&dynamodb.DeleteItemInput{
			TableName: aws.String(s.handleTable),
			Key: map[string]*dynamodb.AttributeValue{
				"NodeID":   {S: aws.String(nodeID)},
				"HandleID": {S: aws.String(handle.ID)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete handle: %w", err)
		}
	}

	_, err = s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(s.nodeTable),
		Key: map[string]*dynamodb.AttributeValue{
			"NodeID": {S: aws.String(nodeID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return nil
}

// UpdateNodeResult stores a node's computed result
func (s *DynamoDBCanvasStore) UpdateNodeResult(nodeID string, result map[string]interface{}) error {
	node, err := s.GetNode(nodeID)
	if err != nil {
		return err
	}

	node.Result = result
	node.UpdatedAt = time.Now()

	return s.SaveNode(node)
}

// SaveEdge persists an edge
func (s *DynamoDBCanvasStore) SaveEdge(edge models.Edge) error {
	av, err := dynamodbattribute.MarshalMap(struct {
		CanvasID       string `json:"CanvasID"`
		EdgeID         string `json:"EdgeID"`
		SourceNodeID   string `json:"SourceNodeID"`
		SourceHandleID string `json:"SourceHandleID"`
		TargetNodeID   string `json:"TargetNodeID"`
		TargetHandleID string `json:"TargetHandleID"`
	}{
		CanvasID:       edge.CanvasID,
		EdgeID:         edge.ID,
		SourceNodeID:   edge.SourceNodeID,
		SourceHandleID: edge.SourceHandleID,
		TargetNodeID:   edge.TargetNodeID,
		TargetHandleID: edge.TargetHandleID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal edge item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.edgeTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}

	return nil
}

// SaveHandle persists a handle
func (s *DynamoDBCanvasStore) SaveHandle(handle models.Handle) error {
	av, err := dynamodbattribute.MarshalMap(struct {
		NodeID   string `json:"NodeID"`
		HandleID string `json:"HandleID"`
		Name     string `json:"Name"`
		Kind     string `json:"Kind"`
		DataType string `json:"DataType"`
	}{
		NodeID:   handle.NodeID,
		HandleID: handle.ID,
		Name:     handle.Name,
		Kind:     handle.Kind,
		DataType: handle.DataType,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal handle item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.handleTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save handle: %w", err)
	}

	return nil
}

func (s *DynamoDBCanvasStore) queryNodes(canvasID string) ([]models.Node, error) {
	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.nodeTable),
		IndexName:              aws.String(s.canvasIndex),
		KeyConditionExpression: aws.String("CanvasID = :canvas_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":canvas_id": {S: aws.String(canvasID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	nodes := make([]models.Node, 0, len(result.Items))
	for _, raw := range result.Items {
		var item dynamoDBNodeItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node item: %w", err)
		}
		node, err := itemToNode(item)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

func (s *DynamoDBCanvasStore) queryEdges(canvasID string) ([]models.Edge, error) {
	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.edgeTable),
		KeyConditionExpression: aws.String("CanvasID = :canvas_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":canvas_id": {S: aws.String(canvasID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}

	edges := make([]models.Edge, 0, len(result.Items))
	for _, raw := range result.Items {
		var item struct {
			CanvasID       string `json:"CanvasID"`
			EdgeID         string `json:"EdgeID"`
			SourceNodeID   string `json:"SourceNodeID"`
			SourceHandleID string `json:"SourceHandleID"`
			TargetNodeID   string `json:"TargetNodeID"`
			TargetHandleID string `json:"TargetHandleID"`
		}
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge item: %w", err)
		}
		edges = append(edges, models.Edge{
			ID:             item.EdgeID,
			CanvasID:       item.CanvasID,
			SourceNodeID:   item.SourceNodeID,
			SourceHandleID: item.SourceHandleID,
			TargetNodeID:   item.TargetNodeID,
			TargetHandleID: item.TargetHandleID,
		})
	}

	return edges, nil
}

func (s *DynamoDBCanvasStore) queryHandles(nodeID string) ([]models.Handle, error) {
	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.handleTable),
		KeyConditionExpression: aws.String("NodeID = :node_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":node_id": {S: aws.String(nodeID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query handles: %w", err)
	}

	handles := make([]models.Handle, 0, len(result.Items))
	for _, raw := range result.Items {
		var item struct {
			NodeID   string `json:"NodeID"`
			HandleID string `json:"HandleID"`
			Name     string `json:"Name"`
			Kind     string `json:"Kind"`
			DataType string `json:"DataType"`
		}
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal handle item: %w", err)
		}
		handles = append(handles, models.Handle{
			ID:       item.HandleID,
			NodeID:   item.NodeID,
			Name:     item.Name,
			Kind:     item.Kind,
			DataType: item.DataType,
		})
	}

	return handles, nil
}

// GetSnapshot loads the full canvas graph for one execution
func (s *DynamoDBCanvasStore) GetSnapshot(canvasID string) (*models.CanvasSnapshot, error) {
	canvas, err := s.GetCanvas(canvasID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CanvasSnapshot{
		Canvas:  canvas,
		Nodes:   make(map[string]*models.Node),
		Edges:   make([]models.Edge, 0),
		Handles: make(map[string]*models.Handle),
	}

	nodes, err := s.queryNodes(canvasID)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		snapshot.Nodes[nodes[i].ID] = &nodes[i]
	}

	edges, err := s.queryEdges(canvasID)
	if err != nil {
		return nil, err
	}
	snapshot.Edges = edges

	for nodeID := range snapshot.Nodes {
		handles, err := s.queryHandles(nodeID)
		if err != nil {
			return nil, err
		}
		for i := range handles {
			snapshot.Handles[handles[i].ID] = &handles[i]
		}
	}

	return snapshot, nil
}

// DynamoDBTaskStore implements the TaskStore interface using DynamoDB
type DynamoDBTaskStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBTaskStore creates a new DynamoDB task store
func NewDynamoDBTaskStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBTaskStore {
	return &DynamoDBTaskStore{
		client:    client,
		tableName: tablePrefix + "tasks",
	}
}

// Initialize creates the DynamoDB tables if they don't exist
func (s *DynamoDBTaskStore) Initialize() error {
	return createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("BatchID"), AttributeType: aws.String("S")},
			{AttributeName: aws.String("NodeID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("BatchID"), KeyType: aws.String("HASH")},
			{AttributeName: aws.String("NodeID"), KeyType: aws.String("RANGE")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
}

// dynamoDBTaskItem represents a task item in DynamoDB. Zero timestamps mean
// the transition has not happened.
type dynamoDBTaskItem struct {
	BatchID    string `json:"BatchID"`
	NodeID     string `json:"NodeID"`
	TaskID     string `json:"TaskID"`
	Status     string `json:"Status"`
	Error      string `json:"Error"`
	StartedAt  int64  `json:"StartedAt"`
	FinishedAt int64  `json:"FinishedAt"`
	CreatedAt  int64  `json:"CreatedAt"`
}

// SaveTask persists a task record
func (s *DynamoDBTaskStore) SaveTask(task models.Task) error {
	item := dynamoDBTaskItem{
		BatchID:   task.BatchID,
		NodeID:    task.NodeID,
		TaskID:    task.ID,
		Status:    string(task.Status),
		Error:     task.Error,
		CreatedAt: task.CreatedAt.Unix(),
	}
	if task.StartedAt != nil {
		item.StartedAt = task.StartedAt.Unix()
	}
	if task.FinishedAt != nil {
		item.FinishedAt = task.FinishedAt.Unix()
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal task item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

func itemToTask(item dynamoDBTaskItem) models.Task {
	task := models.Task{
		ID:        item.TaskID,
		BatchID:   item.BatchID,
		NodeID:    item.NodeID,
		Status:    models.TaskStatus(item.Status),
		Error:     item.Error,
		CreatedAt: time.Unix(item.CreatedAt, 0),
	}
	if item.StartedAt != 0 {
		startedAt := time.Unix(item.StartedAt, 0)
		task.StartedAt = &startedAt
	}
	if item.FinishedAt != 0 {
		finishedAt := time.Unix(item.FinishedAt, 0)
		task.FinishedAt = &finishedAt
	}
	return task
}

// GetTask retrieves the task for a (batch, node) pair
func (s *DynamoDBTaskStore) GetTask(batchID, nodeID string) (models.Task, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"BatchID": {S: aws.String(batchID)},
			"NodeID":  {S: aws.String(nodeID)},
		},
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to get task: %w", err)
	}

	if result.Item == nil {
		return models.Task{}, ErrTaskNotFound
	}

	var item dynamoDBTaskItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return models.Task{}, fmt.Errorf("failed to unmarshal task item: %w", err)
	}

	return itemToTask(item), nil
}

// ListTasks returns all tasks for a batch
func (s *DynamoDBTaskStore) ListTasks(batchID string) ([]models.Task, error) {
	result, err := s.client.Query(&dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("BatchID = :batch_id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":batch_id": {S: aws.String(batchID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(result.Items))
	for _, raw := range result.Items {
		var item dynamoDBTaskItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task item: %w", err)
		}
		tasks = append(tasks, itemToTask(item))
	}

	return tasks, nil
}

// DynamoDBBatchStore implements the BatchStore interface using DynamoDB
type DynamoDBBatchStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBBatchStore creates a new DynamoDB batch store
func NewDynamoDBBatchStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBBatchStore {
	return &DynamoDBBatchStore{
		client:    client,
		tableName: tablePrefix + "batches",
	}
}

// Initialize creates the DynamoDB tables if they don't exist
func (s *DynamoDBBatchStore) Initialize() error {
	return createTableIfNotExists(s.client, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("BatchID"), AttributeType: aws.String("S")},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("BatchID"), KeyType: aws.String("HASH")},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
}

// dynamoDBBatchItem represents a batch item in DynamoDB. A zero CompletedAt
// marks a dangling batch.
type dynamoDBBatchItem struct {
	BatchID     string `json:"BatchID"`
	CanvasID    string `json:"CanvasID"`
	ClaimedBy   string `json:"ClaimedBy"`
	CreatedAt   int64  `json:"CreatedAt"`
	CompletedAt int64  `json:"CompletedAt"`
}

func itemToBatch(item dynamoDBBatchItem) models.TaskBatch {
	batch := models.TaskBatch{
		ID:        item.BatchID,
		CanvasID:  item.CanvasID,
		ClaimedBy: item.ClaimedBy,
		CreatedAt: time.Unix(item.CreatedAt, 0),
	}
	if item.CompletedAt != 0 {
		completedAt := time.Unix(item.CompletedAt, 0)
		batch.CompletedAt = &completedAt
	}
	return batch
}

// SaveBatch persists a batch
func (s *DynamoDBBatchStore) SaveBatch(batch models.TaskBatch) error {
	item := dynamoDBBatchItem{
		BatchID:   batch.ID,
		CanvasID:  batch.CanvasID,
		ClaimedBy: batch.ClaimedBy,
		CreatedAt: batch.CreatedAt.Unix(),
	}
	if batch.CompletedAt != nil {
		item.CompletedAt = batch.CompletedAt.Unix()
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal batch item: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch
func (s *DynamoDBBatchStore) GetBatch(batchID string) (models.TaskBatch, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"BatchID": {S: aws.String(batchID)},
		},
	})
	if err != nil {
		return models.TaskBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}

	if result.Item == nil {
		return models.TaskBatch{}, ErrBatchNotFound
	}

	var item dynamoDBBatchItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return models.TaskBatch{}, fmt.Errorf("failed to unmarshal batch item: %w", err)
	}

	return itemToBatch(item), nil
}

// FinalizeBatch sets the batch completion time if not already set
func (s *DynamoDBBatchStore) FinalizeBatch(batchID string, completedAt time.Time) error {
	if _, err := s.GetBatch(batchID); err != nil {
		return err
	}

	_, err := s.client.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"BatchID": {S: aws.String(batchID)},
		},
		UpdateExpression:    aws.String("SET CompletedAt = :completed_at"),
		ConditionExpression: aws.String("CompletedAt = :zero"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":completed_at": {N: aws.String(fmt.Sprintf("%d", completedAt.Unix()))},
			":zero":         {N: aws.String("0")},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			// Already finalized
			return nil
		}
		return fmt.Errorf("failed to finalize batch: %w", err)
	}

	return nil
}

// ClaimBatch compare-and-swaps the batch owner
func (s *DynamoDBBatchStore) ClaimBatch(batchID, previousOwner, newOwner string) (bool, error) {
	if _, err := s.GetBatch(batchID); err != nil {
		return false, err
	}

	_, err := s.client.UpdateItem(&dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"BatchID": {S: aws.String(batchID)},
		},
		UpdateExpression:    aws.String("SET ClaimedBy = :new_owner"),
		ConditionExpression: aws.String("ClaimedBy = :previous_owner"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":new_owner":      {S: aws.String(newOwner)},
			":previous_owner": {S: aws.String(previousOwner)},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}

	return true, nil
}

// ListDanglingBatches returns all batches with no completion time
func (s *DynamoDBBatchStore) ListDanglingBatches() ([]models.TaskBatch, error) {
	result, err := s.client.Scan(&dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("CompletedAt = :zero"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":zero": {N: aws.String("0")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dangling batches: %w", err)
	}

	batches := make([]models.TaskBatch, 0, len(result.Items))
	for _, raw := range result.Items {
		var item dynamoDBBatchItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch item: %w", err)
		}
		batches = append(batches, itemToBatch(item))
	}

	return batches, nil
}
