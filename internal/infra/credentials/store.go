package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"modelgen/internal/infra"
	"modelgen/internal/sqlinline"
)

const (
	ProviderTripo  = "tripo"
	ProviderOpenAI = "openai"
)

// Store reads and writes provider API keys kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) TripoAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderTripo)
}

func (s *Store) OpenAIAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderOpenAI)
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetTripoAPIKey(ctx context.Context, key string) error {
	return s.set(ctx, ProviderTripo, key)
}

func (s *Store) SetOpenAIAPIKey(ctx context.Context, key string) error {
	return s.set(ctx, ProviderOpenAI, key)
}

// Resolve prefers the explicit key and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) set(ctx context.Context, provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New(provider + " api key is required")
	}
	return s.upsert(ctx, provider, key, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
