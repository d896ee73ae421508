package gdamongo

import (
	"context"

	"github.com/lemmego/gda"
	"go.mongodb.org/mongo-driver/mongo"
)

// =====================================
// Transactions
// =====================================

// Transact runs fn inside a MongoDB transaction. The session rides on the
// context handed to fn, so every operation fn performs through the DAO joins
// the transaction. Transactions need a replica set or mongos deployment.
func (d *DAO[T]) Transact(ctx context.Context, fn gda.TxFunc[T]) error {
	session, err := d.collection.Database().Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx, d)
	})
	return err
}
