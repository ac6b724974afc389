// Package dynamo implements metadata.Store on DynamoDB.
//
// Three tables, each keyed by the record's natural id. Feed and author reads
// use scans with client-side ordering; post volume per deployment is small
// enough that a dedicated index is not worth its write amplification.
package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tenxso/feedd/internal/metadata"
)

// Config controls connectivity and table names.
type Config struct {
	Region     string
	Endpoint   string
	PostsTable string
	UsersTable string
	ChatsTable string
}

// Store implements metadata.Store backed by DynamoDB.
type Store struct {
	client *dynamodb.Client
	cfg    Config
}

// New constructs a Store, resolving credentials from the default AWS chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.PostsTable == "" || cfg.UsersTable == "" || cfg.ChatsTable == "" {
		return nil, fmt.Errorf("dynamo: posts, users, and chats tables are required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	clientOpts := []func(*dynamodb.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return &Store{
		client: dynamodb.NewFromConfig(awsCfg, clientOpts...),
		cfg:    cfg,
	}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *dynamodb.Client, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

// UpsertPost writes the post record, replacing any previous version.
func (s *Store) UpsertPost(ctx context.Context, post metadata.Post) error {
	item, err := attributevalue.MarshalMap(post)
	if err != nil {
		return fmt.Errorf("dynamo: marshal post: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.PostsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: put post: %w", err)
	}
	return nil
}

func (s *Store) scanPosts(ctx context.Context, input *dynamodb.ScanInput) ([]metadata.Post, error) {
	var posts []metadata.Post
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: scan posts: %w", err)
		}
		var batch []metadata.Post
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("dynamo: unmarshal posts: %w", err)
		}
		posts = append(posts, batch...)
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

// RecentPosts returns up to limit posts, newest first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]metadata.Post, error) {
	posts, err := s.scanPosts(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.cfg.PostsTable),
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// PostsByAuthor returns the author's posts, newest first.
func (s *Store) PostsByAuthor(ctx context.Context, authorID string) ([]metadata.Post, error) {
	return s.scanPosts(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.cfg.PostsTable),
		FilterExpression: aws.String("author_id = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: authorID},
		},
	})
}

// UpsertUser writes the user record, replacing any previous version.
func (s *Store) UpsertUser(ctx context.Context, user metadata.User) error {
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("dynamo: marshal user: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.UsersTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (metadata.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.cfg.UsersTable),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return metadata.User{}, fmt.Errorf("dynamo: get user: %w", err)
	}
	if out.Item == nil {
		return metadata.User{}, metadata.ErrNotFound
	}
	var user metadata.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return metadata.User{}, fmt.Errorf("dynamo: unmarshal user: %w", err)
	}
	return user, nil
}

// ChatsFor returns every chat whose id contains the user id.
func (s *Store) ChatsFor(ctx context.Context, userID string) ([]metadata.Chat, error) {
	var chats []metadata.Chat
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.cfg.ChatsTable),
		FilterExpression: aws.String("contains(chat_id, :u)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: scan chats: %w", err)
		}
		var batch []metadata.Chat
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("dynamo: unmarshal chats: %w", err)
		}
		chats = append(chats, batch...)
	}
	return chats, nil
}

// Close satisfies metadata.Store (no-op for DynamoDB).
func (s *Store) Close() error { return nil }
