package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stagecast/stagecast/internal/domain"
)

// S3Store keeps one JSON object per room in an S3-compatible bucket
// (Cloudflare R2 works with a custom endpoint). Reads and writes are whole
// snapshots; this trades write amplification for a zero-schema backend.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a store against an S3-compatible endpoint with static
// credentials. endpoint may be empty for AWS proper.
func NewS3Store(accessKeyID, secretAccessKey, region, endpoint, bucket string) (*S3Store, error) {
	if accessKeyID == "" || secretAccessKey == "" || bucket == "" {
		return nil, fmt.Errorf("s3 store configuration incomplete")
	}
	if region == "" {
		region = "auto"
	}

	creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	opts := s3.Options{
		Region:      region,
		Credentials: creds,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: bucket,
	}, nil
}

func (s *S3Store) key(roomID string) string {
	return "rooms/" + roomID + "/messages.json"
}

func (s *S3Store) load(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(roomID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse room object: %w", err)
	}
	return msgs, nil
}

func (s *S3Store) save(ctx context.Context, roomID string, msgs []domain.ChatMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(roomID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put room object: %w", err)
	}
	return nil
}

func (s *S3Store) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	msgs, err := s.load(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	return s.save(ctx, msg.RoomID, append(msgs, *msg))
}

func (s *S3Store) Messages(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *S3Store) DeleteRoomMessages(ctx context.Context, roomID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(roomID)),
	})
	if err != nil {
		return fmt.Errorf("delete room object: %w", err)
	}
	return nil
}

func (s *S3Store) AddReaction(ctx context.Context, roomID, messageID, userID, emoji string) ([]domain.Reaction, error) {
	msgs, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		msgs[i].Reactions = toggleReaction(msgs[i].Reactions, userID, emoji)
		if err := s.save(ctx, roomID, msgs); err != nil {
			return nil, err
		}
		if msgs[i].Reactions == nil {
			return []domain.Reaction{}, nil
		}
		return msgs[i].Reactions, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (s *S3Store) Close() error {
	return nil
}
