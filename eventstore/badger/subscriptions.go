package badger

import (
	"context"

	"github.com/dgraph-io/badger"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

func putSubscription(txn *badger.Txn, sub eventstore.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return txn.Set(subscriptionKey(sub.ID), data)
}

func (b *Backend) CreateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		var existing eventstore.Subscription
		found, err := getJSON(txn, subscriptionKey(sub.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			return eventstore.ErrSubscriptionAlreadyExists
		}
		return putSubscription(txn, sub)
	})
	return eventstore.Failure("create subscription", err)
}

func (b *Backend) Subscription(ctx context.Context, id string) (sub eventstore.Subscription, found bool, err error) {
	err = b.view(ctx, func(txn *badger.Txn) error {
		found, err = getJSON(txn, subscriptionKey(id), &sub)
		return err
	})
	if err != nil {
		return eventstore.Subscription{}, false, eventstore.Failure("get subscription", err)
	}
	return sub, found, nil
}

func (b *Backend) Subscriptions(ctx context.Context) ([]eventstore.Subscription, error) {
	var out []eventstore.Subscription
	err := b.view(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefixSubscription); it.ValidForPrefix(prefixSubscription); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var sub eventstore.Subscription
			if err := json.Unmarshal(val, &sub); err != nil {
				return err
			}
			out = append(out, sub)
		}
		return nil
	})
	if err != nil {
		return nil, eventstore.Failure("list subscriptions", err)
	}
	return out, nil
}

func (b *Backend) UpdateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		var existing eventstore.Subscription
		found, err := getJSON(txn, subscriptionKey(sub.ID), &existing)
		if err != nil {
			return err
		}
		if !found {
			return eventstore.ErrSubscriptionNotFound
		}
		return putSubscription(txn, sub)
	})
	return eventstore.Failure("update subscription", err)
}

func (b *Backend) DeleteSubscription(ctx context.Context, id string) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(subscriptionKey(id))
	})
	return eventstore.Failure("delete subscription", err)
}
