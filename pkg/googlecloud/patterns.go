package googlecloud

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/locvowork/task_management_sample/internal/domain"
	"google.golang.org/api/iterator"
)

// maxBatch is the Datastore limit on keys per multi-operation.
const maxBatch = 500

// WrapDatastoreError converts Datastore-specific errors to domain errors.
func WrapDatastoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if domain.IsPermanent(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRemote, err)
}

// IsNotFoundError checks if an error is a not-found error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, datastore.ErrNoSuchEntity)
}

// mutate reads the entity at key inside a transaction, lets fn change it and writes it back.
// A missing entity fails with ErrNotFound before fn runs.
func mutate[E any](ctx context.Context, c *Client, key *datastore.Key, fn func(*E) error) (*E, error) {
	var out E
	_, err := c.ds.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity E
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		if err := fn(&entity); err != nil {
			return err
		}
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		out = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// deleteExisting deletes key inside a transaction, failing with ErrNoSuchEntity when it is
// already gone.
func (c *Client) deleteExisting(ctx context.Context, key *datastore.Key, dst interface{}) error {
	_, err := c.ds.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, dst); err != nil {
			return err
		}
		return tx.Delete(key)
	})
	return err
}

// deleteMultiChunked removes keys in batches the API accepts.
func (c *Client) deleteMultiChunked(ctx context.Context, keys []*datastore.Key) error {
	for start := 0; start < len(keys); start += maxBatch {
		end := start + maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.ds.DeleteMulti(ctx, keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// run iterates q, calling fn with each key and decoded entity.
func run[E any](ctx context.Context, c *Client, q *datastore.Query, fn func(*datastore.Key, *E) error) error {
	it := c.ds.Run(ctx, q)
	for {
		var entity E
		key, err := it.Next(&entity)
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(key, &entity); err != nil {
			return err
		}
	}
}
