package mongostore

import (
	"context"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/docstore"
	"go.mongodb.org/mongo-driver/mongo"
)

func watchOf[T any](ctx context.Context, s *Store, coll *mongo.Collection, collection string, fetch docstore.FetchFunc[T]) <-chan domain.Snapshot[T] {
	triggers, interval := s.triggers(ctx, coll, collection)
	return docstore.Watch(ctx, func(ctx context.Context) ([]T, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, wrapErr("watch "+collection, err)
		}
		return items, nil
	}, triggers, interval)
}
