package settlement

import (
	"context"

	"tidepool/native/common"
	"tidepool/native/intent"
	"tidepool/native/order"
	"tidepool/services/solverd/pubsub"
	"tidepool/services/solverd/txbuilder"
)

// RequestIntentCancel starts a cancellation. An intent still in CREATED never
// reached the chain and cancels immediately with no transaction; otherwise a
// cancel transaction is built and the intent parks in CANCELLING until
// ConfirmIntentCancel.
func (c *Coordinator) RequestIntentCancel(ctx context.Context, intentID string) (*txbuilder.BuiltTx, error) {
	if err := common.Guard(c.pauses, common.ModuleIntents); err != nil {
		return nil, err
	}
	it, err := c.intents.IntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if it.Status == intent.StatusCreated {
		cancelled, err := it.BeginCancel("")
		if err != nil {
			return nil, err
		}
		if err := c.intents.SaveIntent(ctx, cancelled); err != nil {
			return nil, err
		}
		c.events.Publish(pubsub.Event{Subject: pubsub.SubjectIntentCancelled, EntityID: intentID})
		return nil, nil
	}
	if !it.CanBeCancelled() {
		return nil, common.NewInvalidState("intent", string(it.Status), "cancel")
	}

	tx, err := c.builder.BuildCancelTx(ctx, txbuilder.EscrowSpendRequest{
		EntityID:   intentID,
		EscrowUTxO: it.EscrowUTxO,
		Receiver:   it.Creator,
	})
	if err != nil {
		c.metrics.RecordError("cancel_intent", "build")
		return nil, err
	}
	cancelling, err := it.BeginCancel(tx.TxHash)
	if err != nil {
		return nil, err
	}
	if err := c.intents.SaveIntent(ctx, cancelling); err != nil {
		return nil, err
	}
	c.log.Info("intent cancel requested", "intent", intentID, "tx", tx.TxHash)
	return tx, nil
}

// ConfirmIntentCancel completes the two-phase cancellation once the cancel
// transaction confirmed on-chain.
func (c *Coordinator) ConfirmIntentCancel(ctx context.Context, intentID string) error {
	it, err := c.intents.IntentByID(ctx, intentID)
	if err != nil {
		return err
	}
	cancelled, err := it.ConfirmCancel()
	if err != nil {
		return err
	}
	if err := c.intents.SaveIntent(ctx, cancelled); err != nil {
		return err
	}
	c.events.Publish(pubsub.Event{Subject: pubsub.SubjectIntentCancelled, EntityID: intentID, TxHash: it.CancelTxHash})
	c.metrics.RecordConfirmation("cancel")
	return nil
}

// AbandonIntentCancel returns a CANCELLING intent to its fillable state when
// the cancel transaction was never submitted.
func (c *Coordinator) AbandonIntentCancel(ctx context.Context, intentID string) error {
	it, err := c.intents.IntentByID(ctx, intentID)
	if err != nil {
		return err
	}
	restored, err := it.AbandonCancel()
	if err != nil {
		return err
	}
	return c.intents.SaveIntent(ctx, restored)
}

// RequestReclaim builds the transaction returning an expired intent's escrow
// to its creator. The intent stays EXPIRED until ConfirmReclaim.
func (c *Coordinator) RequestReclaim(ctx context.Context, intentID string) (*txbuilder.BuiltTx, error) {
	it, err := c.intents.IntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if it.Status != intent.StatusExpired {
		return nil, common.NewInvalidState("intent", string(it.Status), "reclaim")
	}
	tx, err := c.builder.BuildReclaimTx(ctx, txbuilder.EscrowSpendRequest{
		EntityID:   intentID,
		EscrowUTxO: it.EscrowUTxO,
		Receiver:   it.Creator,
	})
	if err != nil {
		c.metrics.RecordError("reclaim", "build")
		return nil, err
	}
	c.log.Info("reclaim requested", "intent", intentID, "tx", tx.TxHash)
	return tx, nil
}

// ConfirmReclaim records a confirmed reclaim.
func (c *Coordinator) ConfirmReclaim(ctx context.Context, intentID, txHash string) error {
	it, err := c.intents.IntentByID(ctx, intentID)
	if err != nil {
		return err
	}
	reclaimed, err := it.MarkReclaimed(txHash)
	if err != nil {
		return err
	}
	if err := c.intents.SaveIntent(ctx, reclaimed); err != nil {
		return err
	}
	c.events.Publish(pubsub.Event{Subject: pubsub.SubjectIntentReclaimed, EntityID: intentID, TxHash: txHash})
	c.metrics.RecordConfirmation("reclaim")
	return nil
}

// RequestOrderCancel mirrors RequestIntentCancel for orders.
func (c *Coordinator) RequestOrderCancel(ctx context.Context, orderID string) (*txbuilder.BuiltTx, error) {
	if err := common.Guard(c.pauses, common.ModuleOrders); err != nil {
		return nil, err
	}
	o, err := c.orders.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == order.StatusCreated {
		cancelled, err := o.BeginCancel("")
		if err != nil {
			return nil, err
		}
		if err := c.orders.SaveOrder(ctx, cancelled); err != nil {
			return nil, err
		}
		c.events.Publish(pubsub.Event{Subject: pubsub.SubjectOrderCancelled, EntityID: orderID})
		return nil, nil
	}
	if !o.CanBeCancelled() {
		return nil, common.NewInvalidState("order", string(o.Status), "cancel")
	}

	tx, err := c.builder.BuildCancelTx(ctx, txbuilder.EscrowSpendRequest{
		EntityID:   orderID,
		EscrowUTxO: o.EscrowUTxO,
		Receiver:   o.Creator,
	})
	if err != nil {
		c.metrics.RecordError("cancel_order", "build")
		return nil, err
	}
	cancelling, err := o.BeginCancel(tx.TxHash)
	if err != nil {
		return nil, err
	}
	if err := c.orders.SaveOrder(ctx, cancelling); err != nil {
		return nil, err
	}
	c.log.Info("order cancel requested", "order", orderID, "tx", tx.TxHash)
	return tx, nil
}

// ConfirmOrderCancel completes the two-phase order cancellation.
func (c *Coordinator) ConfirmOrderCancel(ctx context.Context, orderID string) error {
	o, err := c.orders.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	cancelled, err := o.ConfirmCancel()
	if err != nil {
		return err
	}
	if err := c.orders.SaveOrder(ctx, cancelled); err != nil {
		return err
	}
	c.events.Publish(pubsub.Event{Subject: pubsub.SubjectOrderCancelled, EntityID: orderID, TxHash: o.CancelTxHash})
	c.metrics.RecordConfirmation("cancel")
	return nil
}
