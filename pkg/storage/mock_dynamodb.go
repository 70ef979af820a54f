package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// MockDynamoDBAPI implements the dynamodbiface.DynamoDBAPI interface for
// testing. It supports the subset of DynamoDB the providers use: key lookups,
// equality key conditions, equality filters and single-attribute conditional
// updates.
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable
}

// MockTable represents a DynamoDB table in memory
type MockTable struct {
	Name      string
	Items     map[string]map[string]*dynamodb.AttributeValue
	KeySchema []*dynamodb.KeySchemaElement
	GSI       []*dynamodb.GlobalSecondaryIndex
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{
		tables: make(map[string]*MockTable),
	}
}

// CreateTable creates a mock table
func (m *MockDynamoDBAPI) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; exists {
		return nil, fmt.Errorf("table already exists: %s", tableName)
	}

	m.tables[tableName] = &MockTable{
		Name:      tableName,
		Items:     make(map[string]map[string]*dynamodb.AttributeValue),
		KeySchema: input.KeySchema,
		GSI:       input.GlobalSecondaryIndexes,
	}

	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String("ACTIVE"),
		},
	}, nil
}

// DescribeTable describes a mock table
func (m *MockDynamoDBAPI) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tableName := aws.StringValue(input.TableName)
	table, exists := m.tables[tableName]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   aws.String(table.Name),
			TableStatus: aws.String("ACTIVE"),
			KeySchema:   table.KeySchema,
		},
	}, nil
}

// PutItem puts an item in a mock table
func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	key := generateMockKey(table.KeySchema, input.Item)
	table.Items[key] = input.Item

	return &dynamodb.PutItemOutput{}, nil
}

// GetItem gets an item from a mock table
func (m *MockDynamoDBAPI) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	key := generateMockKey(table.KeySchema, input.Key)
	item, exists := table.Items[key]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}

	return &dynamodb.GetItemOutput{Item: item}, nil
}

// DeleteItem deletes an item from a mock table
func (m *MockDynamoDBAPI) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	delete(table.Items, generateMockKey(table.KeySchema, input.Key))

	return &dynamodb.DeleteItemOutput{}, nil
}

// UpdateItem applies a single-attribute SET with an optional equality
// condition
func (m *MockDynamoDBAPI) UpdateItem(input *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	key := generateMockKey(table.KeySchema, input.Key)
	item, exists := table.Items[key]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "item does not exist", nil)
	}

	if input.ConditionExpression != nil {
		if !matchesEquality(aws.StringValue(input.ConditionExpression), input.ExpressionAttributeValues, item) {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "condition failed", nil)
		}
	}

	attr, placeholder, err := parseEquality(strings.TrimPrefix(aws.StringValue(input.UpdateExpression), "SET "))
	if err != nil {
		return nil, err
	}
	value, ok := input.ExpressionAttributeValues[placeholder]
	if !ok {
		return nil, fmt.Errorf("missing expression attribute value: %s", placeholder)
	}
	item[attr] = value

	return &dynamodb.UpdateItemOutput{}, nil
}

// Query queries a mock table, applying the equality key condition
func (m *MockDynamoDBAPI) Query(input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		if input.KeyConditionExpression != nil &&
			!matchesEquality(aws.StringValue(input.KeyConditionExpression), input.ExpressionAttributeValues, item) {
			continue
		}
		resultItems = append(resultItems, item)
	}

	return &dynamodb.QueryOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

// Scan scans a mock table, applying the equality filter expression
func (m *MockDynamoDBAPI) Scan(input *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(aws.StringValue(input.TableName))
	if err != nil {
		return nil, err
	}

	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		if input.FilterExpression != nil &&
			!matchesEquality(aws.StringValue(input.FilterExpression), input.ExpressionAttributeValues, item) {
			continue
		}
		resultItems = append(resultItems, item)
	}

	return &dynamodb.ScanOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

// WaitUntilTableExists waits for table to exist (mock tables are immediately available)
func (m *MockDynamoDBAPI) WaitUntilTableExists(input *dynamodb.DescribeTableInput) error {
	return nil
}

func (m *MockDynamoDBAPI) table(name string) (*MockTable, error) {
	table, exists := m.tables[name]
	if !exists {
		return nil, fmt.Errorf("table not found: %s", name)
	}
	return table, nil
}

// parseEquality splits an "Attr = :placeholder" expression
func parseEquality(expr string) (string, string, error) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unsupported expression: %s", expr)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func matchesEquality(expr string, values map[string]*dynamodb.AttributeValue, item map[string]*dynamodb.AttributeValue) bool {
	attr, placeholder, err := parseEquality(expr)
	if err != nil {
		return false
	}

	expected, ok := values[placeholder]
	if !ok {
		return false
	}
	actual, ok := item[attr]
	if !ok {
		return false
	}

	if expected.S != nil && actual.S != nil {
		return aws.StringValue(expected.S) == aws.StringValue(actual.S)
	}
	if expected.N != nil && actual.N != nil {
		return aws.StringValue(expected.N) == aws.StringValue(actual.N)
	}

	return false
}

func generateMockKey(keySchema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) string {
	var keyParts []string
	for _, keyElement := range keySchema {
		attrName := aws.StringValue(keyElement.AttributeName)
		if attr, exists := item[attrName]; exists {
			if attr.S != nil {
				keyParts = append(keyParts, aws.StringValue(attr.S))
			} else if attr.N != nil {
				keyParts = append(keyParts, aws.StringValue(attr.N))
			}
		}
	}
	return strings.Join(keyParts, "#")
}
