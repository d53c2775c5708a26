package docstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "sidecar:doc:"

// Redis keeps each document as a string key.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) Mode() string { return ModeRedis }

func (s *Redis) key(name string) (string, error) {
	clean := CleanName(name)
	if clean == "" {
		return "", errors.New("docstore: invalid document name " + name)
	}
	return s.prefix + clean, nil
}

func (s *Redis) Load(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Redis) Save(ctx context.Context, name string, data []byte) (string, error) {
	key, err := s.key(name)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Redis) Stat(ctx context.Context, name string) (Info, error) {
	data, err := s.Load(ctx, name)
	if err != nil {
		return Info{}, err
	}
	key, _ := s.key(name)
	sum, err := HashBytes(data, "sha256")
	if err != nil {
		return Info{}, err
	}
	return Info{Name: CleanName(name), Size: int64(len(data)), Digest: sum, Location: key}, nil
}

var _ Store = (*Redis)(nil)
