package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DynamoKV implements KV on DynamoDB. The table keys on pk/sk; one global
// secondary index on the gsi1pk attribute is the inverted index. Action and
// identity-set filters are pushed down as filter expressions so they run
// server-side.
type DynamoKV struct {
	client    dynamodbiface.DynamoDBAPI
	table     string
	indexName string
}

func NewDynamoKV(client dynamodbiface.DynamoDBAPI, table string) *DynamoKV {
	return &DynamoKV{client: client, table: table, indexName: "gsi1"}
}

func (d *DynamoKV) item(rec Record) map[string]*dynamodb.AttributeValue {
	item := map[string]*dynamodb.AttributeValue{
		"pk": {S: aws.String(rec.Partition)},
		"sk": {S: aws.String(rec.Sort)},
	}
	if rec.Index != "" {
		item["gsi1pk"] = &dynamodb.AttributeValue{S: aws.String(rec.Index)}
	}
	if rec.Action != "" {
		item["action"] = &dynamodb.AttributeValue{S: aws.String(rec.Action)}
	}
	if len(rec.Doc) > 0 {
		item["doc"] = &dynamodb.AttributeValue{B: rec.Doc}
	}
	return item
}

func (d *DynamoKV) record(item map[string]*dynamodb.AttributeValue) Record {
	rec := Record{
		Partition: aws.StringValue(item["pk"].S),
		Sort:      aws.StringValue(item["sk"].S),
	}
	if v, ok := item["gsi1pk"]; ok {
		rec.Index = aws.StringValue(v.S)
	}
	if v, ok := item["action"]; ok {
		rec.Action = aws.StringValue(v.S)
	}
	if v, ok := item["doc"]; ok {
		rec.Doc = v.B
	}
	return rec
}

func (d *DynamoKV) Put(ctx context.Context, rec Record) error {
	_, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      d.item(rec),
	})
	return err
}

func (d *DynamoKV) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	_, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                d.item(rec),
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DynamoKV) Get(ctx context.Context, key Key) (*Record, error) {
	out, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(key.Partition)},
			"sk": {S: aws.String(key.Sort)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	rec := d.record(out.Item)
	return &rec, nil
}

func (d *DynamoKV) QueryPartition(ctx context.Context, q Query) ([]Record, error) {
	values := map[string]*dynamodb.AttributeValue{
		":pk": {S: aws.String(q.Partition)},
	}
	keyCond := "pk = :pk"
	if q.SortPrefix != "" {
		keyCond += " AND begins_with(sk, :prefix)"
		values[":prefix"] = &dynamodb.AttributeValue{S: aws.String(q.SortPrefix)}
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
	}
	var filters []string
	if q.Action != "" {
		// "action" is a DynamoDB reserved word.
		filters = append(filters, "#a = :action")
		input.ExpressionAttributeNames = map[string]*string{"#a": aws.String("action")}
		values[":action"] = &dynamodb.AttributeValue{S: aws.String(q.Action)}
	}
	if len(q.IndexIn) > 0 {
		names := make([]string, 0, len(q.IndexIn))
		for i, v := range q.IndexIn {
			name := fmt.Sprintf(":idx%d", i)
			names = append(names, name)
			values[name] = &dynamodb.AttributeValue{S: aws.String(v)}
		}
		filters = append(filters, "gsi1pk IN ("+strings.Join(names, ", ")+")")
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}
	return d.queryAll(ctx, input)
}

func (d *DynamoKV) QueryIndex(ctx context.Context, value string) ([]Record, error) {
	return d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		IndexName:              aws.String(d.indexName),
		KeyConditionExpression: aws.String("gsi1pk = :v"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":v": {S: aws.String(value)},
		},
	})
}

func (d *DynamoKV) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]Record, error) {
	out := make([]Record, 0)
	for {
		page, err := d.client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			out = append(out, d.record(item))
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// BatchDelete issues one BatchWriteItem per call (the caller chunks to the
// native 25-item limit) and retries unprocessed keys until drained.
func (d *DynamoKV) BatchDelete(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	requests := make([]*dynamodb.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{
				Key: map[string]*dynamodb.AttributeValue{
					"pk": {S: aws.String(key.Partition)},
					"sk": {S: aws.String(key.Sort)},
				},
			},
		})
	}
	pending := map[string][]*dynamodb.WriteRequest{d.table: requests}
	for len(pending) > 0 {
		out, err := d.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return nil
}

func (d *DynamoKV) Any(ctx context.Context) (bool, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.table),
		Limit:     aws.Int64(1),
	}
	for {
		out, err := d.client.ScanWithContext(ctx, input)
		if err != nil {
			return false, err
		}
		if len(out.Items) > 0 {
			return true, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return false, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// IndexReady checks the inverted index exists and is active on the table.
func (d *DynamoKV) IndexReady(ctx context.Context) error {
	out, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", d.table, err)
	}
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		if aws.StringValue(gsi.IndexName) != d.indexName {
			continue
		}
		if aws.StringValue(gsi.IndexStatus) != dynamodb.IndexStatusActive {
			return fmt.Errorf("index %s on table %s is %s", d.indexName, d.table, aws.StringValue(gsi.IndexStatus))
		}
		return nil
	}
	return fmt.Errorf("index %s missing on table %s", d.indexName, d.table)
}
