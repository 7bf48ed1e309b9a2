package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
)

// CreateCallback persists a callback. System callbacks are unique per
// signal type.
func (s *Store) CreateCallback(ctx context.Context, cb *signal.Callback) error {
	doc, err := encodeDoc(cb)
	if err != nil {
		return err
	}
	token := cb.Token.String()
	index, system := s.keys.taskSignals(cb.TaskID.String()), ""
	if cb.System() {
		index, system = s.keys.systemSignals(), "1"
	}
	n, err := createCallbackScript.Run(ctx, s.client,
		[]string{s.keys.signal(token), index},
		doc, token, system, cb.Type,
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: create callback: %w", err)
	}
	if n == 0 {
		return stepflow.ErrSignalAlreadyExists
	}
	return nil
}

// GetCallback retrieves a callback by token.
func (s *Store) GetCallback(ctx context.Context, token id.SignalID) (*signal.Callback, error) {
	return s.getCallback(ctx, token.String())
}

func (s *Store) getCallback(ctx context.Context, token string) (*signal.Callback, error) {
	var cb signal.Callback
	found, err := s.getDoc(ctx, s.keys.signal(token), &cb)
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get callback: %w", err)
	}
	if !found {
		return nil, stepflow.ErrSignalNotFound
	}
	return &cb, nil
}

// DeleteCallback removes a callback. Of two concurrent deletes only one
// sees the key and succeeds.
func (s *Store) DeleteCallback(ctx context.Context, token id.SignalID) error {
	tok := token.String()
	cb, err := s.getCallback(ctx, tok)
	if err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.keys.signal(tok)).Result()
	if err != nil {
		return fmt.Errorf("stepflow/redis: delete callback: %w", err)
	}
	if n == 0 {
		return stepflow.ErrSignalNotFound
	}
	if cb.System() {
		err = s.client.HDel(ctx, s.keys.systemSignals(), cb.Type).Err()
	} else {
		err = s.client.SRem(ctx, s.keys.taskSignals(cb.TaskID.String()), tok).Err()
	}
	if err != nil {
		return fmt.Errorf("stepflow/redis: delete callback index: %w", err)
	}
	return nil
}

// ListCallbacksByTask returns all callbacks registered by a task.
func (s *Store) ListCallbacksByTask(ctx context.Context, taskID id.TaskID) ([]*signal.Callback, error) {
	tokens, err := s.client.SMembers(ctx, s.keys.taskSignals(taskID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: list callbacks: %w", err)
	}
	sort.Strings(tokens)
	result := make([]*signal.Callback, 0, len(tokens))
	for _, tok := range tokens {
		cb, err := s.getCallback(ctx, tok)
		if err != nil {
			continue
		}
		result = append(result, cb)
	}
	return result, nil
}

// GetSystemCallback returns the system callback of a signal type.
func (s *Store) GetSystemCallback(ctx context.Context, signalType string) (*signal.Callback, error) {
	tok, err := s.client.HGet(ctx, s.keys.systemSignals(), signalType).Result()
	if isNil(err) {
		return nil, stepflow.ErrSignalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get system callback: %w", err)
	}
	return s.getCallback(ctx, tok)
}
