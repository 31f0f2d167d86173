package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const transitionSource = "stripe"

// MapStripeStatus translates a Stripe subscription status into the internal
// status set. Unrecognized values start as trialing so they never grant or
// revoke access on their own.
func MapStripeStatus(raw string) subscriptiondomain.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return subscriptiondomain.StatusActive
	case "trialing", "incomplete":
		return subscriptiondomain.StatusTrialing
	case "past_due", "paused":
		return subscriptiondomain.StatusPastDue
	case "canceled", "incomplete_expired", "unpaid":
		return subscriptiondomain.StatusCanceled
	default:
		return subscriptiondomain.StatusTrialing
	}
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	if event.Subscription == nil {
		return errMissingObject
	}
	return s.upsertFromSubscription(ctx, event.Subscription, true)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	sub := event.Subscription
	if sub == nil {
		return errMissingObject
	}

	existing, err := s.subRepo.FindByProviderSubscriptionID(ctx, s.db, sub.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		// The created event has not been applied yet; build the record from
		// this snapshot instead.
		return s.upsertFromSubscription(ctx, sub, false)
	}

	status := MapStripeStatus(sub.Status)
	changes := subscriptiondomain.Changes{
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  &sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
	}
	if cycle, ok := s.cycleFor(sub); ok {
		changes.BillingCycle = &cycle
	}

	if status == subscriptiondomain.StatusCanceled {
		freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
		if err != nil {
			return err
		}
		if changes.CanceledAt == nil {
			now := s.clock.Now(ctx)
			changes.CanceledAt = &now
		}
		return s.setEntitlement(ctx, existing, subscriptiondomain.EntitlementUpdate{
			TierID:  freeID,
			Status:  status,
			Changes: changes,
		})
	}

	return s.updateProviderState(ctx, existing, status, changes)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	sub := event.Subscription
	if sub == nil {
		return errMissingObject
	}

	record, err := s.subRepo.FindByProviderSubscriptionID(ctx, s.db, sub.ID)
	if err != nil {
		return err
	}
	if record == nil && sub.CustomerID != "" {
		record, err = s.subRepo.FindByProviderCustomerID(ctx, s.db, sub.CustomerID)
		if err != nil {
			return err
		}
		// A customer-level match linked to another subscription belongs to
		// a newer purchase.
		if record != nil {
			linked := subscriptiondomain.StringValue(record.ProviderSubscriptionID)
			if linked != "" && linked != sub.ID {
				s.log.Info("deleted subscription no longer linked, skipping",
					zap.String("subscription_id", sub.ID),
					zap.String("linked_subscription_id", linked))
				return nil
			}
		}
	}
	if record == nil {
		return fmt.Errorf("%w: subscription %s", paymentdomain.ErrRecordNotFound, sub.ID)
	}

	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}
	canceledAt := sub.CanceledAt
	if canceledAt == nil {
		now := s.clock.Now(ctx)
		canceledAt = &now
	}
	cancelFlag := false
	return s.setEntitlement(ctx, record, subscriptiondomain.EntitlementUpdate{
		TierID: freeID,
		Status: subscriptiondomain.StatusCanceled,
		Changes: subscriptiondomain.Changes{
			CanceledAt:        canceledAt,
			CancelAtPeriodEnd: &cancelFlag,
		},
	})
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	inv := event.Invoice
	if inv == nil {
		return errMissingObject
	}

	// The payment is recorded even when the record lookup fails.
	record, lookupErr := s.recordForInvoice(ctx, inv)

	paymentID := inv.PaymentIntentID
	if paymentID == "" {
		paymentID = paymentdomain.SyntheticPaymentID(inv.ID)
	}
	appendErr := s.appendTransaction(ctx, event, record, inv.Metadata["user_id"], paymentID, inv.ID, inv.AmountPaid, inv.Currency, paymentdomain.TransactionSucceeded, map[string]any{
		"billing_reason":  inv.BillingReason,
		"subscription_id": inv.SubscriptionID,
	})
	if lookupErr != nil {
		return errors.Join(lookupErr, appendErr)
	}

	if inv.SubscriptionID == "" {
		// One-off invoice: logged in the transaction log only.
		return appendErr
	}

	premiumID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierPremium)
	if err != nil {
		return errors.Join(appendErr, err)
	}

	provider := subscriptiondomain.ProviderStripe
	update := subscriptiondomain.EntitlementUpdate{
		TierID: premiumID,
		Status: subscriptiondomain.StatusActive,
		Changes: subscriptiondomain.Changes{
			Provider:               &provider,
			ProviderSubscriptionID: subscriptiondomain.StringPtr(inv.SubscriptionID),
			ProviderCustomerID:     subscriptiondomain.StringPtr(inv.CustomerID),
			CurrentPeriodStart:     inv.PeriodStart,
			CurrentPeriodEnd:       inv.PeriodEnd,
		},
	}

	if record == nil {
		userID := strings.TrimSpace(inv.Metadata["user_id"])
		if userID == "" {
			return errors.Join(appendErr, fmt.Errorf("%w: invoice %s", paymentdomain.ErrUserNotResolved, inv.ID))
		}
		return errors.Join(appendErr, s.insertRecord(ctx, userID, update))
	}
	return errors.Join(appendErr, s.setEntitlement(ctx, record, update))
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	inv := event.Invoice
	if inv == nil {
		return errMissingObject
	}

	record, lookupErr := s.recordForInvoice(ctx, inv)

	paymentID := inv.PaymentIntentID
	if paymentID == "" {
		paymentID = paymentdomain.SyntheticPaymentID(inv.ID)
	}
	appendErr := s.appendTransaction(ctx, event, record, inv.Metadata["user_id"], paymentdomain.FailedAttemptID(paymentID, event.ID), inv.ID, inv.AmountDue, inv.Currency, paymentdomain.TransactionFailed, map[string]any{
		"billing_reason":  inv.BillingReason,
		"subscription_id": inv.SubscriptionID,
		"payment_id":      paymentID,
	})
	if lookupErr != nil {
		return errors.Join(lookupErr, appendErr)
	}

	if record == nil {
		if inv.SubscriptionID == "" {
			return appendErr
		}
		return errors.Join(appendErr, fmt.Errorf("%w: invoice %s", paymentdomain.ErrRecordNotFound, inv.ID))
	}

	switch record.Status {
	case subscriptiondomain.StatusCanceled:
		s.log.Info("payment failure on canceled record, leaving status", zap.String("user_id", record.UserID))
		return appendErr
	case subscriptiondomain.StatusGracePeriod:
		// The grace window runs from the first failure; retries do not extend it.
		return appendErr
	}

	return errors.Join(appendErr, s.updateProviderState(ctx, record, subscriptiondomain.StatusGracePeriod, subscriptiondomain.Changes{}))
}

func (s *Service) handleChargeRefunded(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	charge := event.Charge
	if charge == nil {
		return errMissingObject
	}
	now := s.clock.Now(ctx)

	candidates := []string{charge.PaymentIntentID, charge.ID}
	if charge.InvoiceID != "" {
		candidates = append(candidates, paymentdomain.SyntheticPaymentID(charge.InvoiceID))
	}

	var txn *paymentdomain.Transaction
	for _, id := range candidates {
		if id == "" {
			continue
		}
		found, err := s.repo.FindByProviderPaymentID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if found != nil {
			txn = found
			break
		}
	}

	if txn != nil {
		if _, err := s.repo.MarkRefunded(ctx, s.db, txn.ProviderPaymentID, now); err != nil {
			return err
		}
	} else {
		s.log.Warn("refunded charge has no recorded transaction", zap.String("charge_id", charge.ID))
	}

	var record *subscriptiondomain.SubscriptionRecord
	var err error
	switch {
	case txn != nil && txn.UserID != "":
		record, err = s.subRepo.FindByUserID(ctx, s.db, txn.UserID)
	case charge.Metadata["user_id"] != "":
		record, err = s.subRepo.FindByUserID(ctx, s.db, charge.Metadata["user_id"])
	case charge.CustomerID != "":
		record, err = s.subRepo.FindByProviderCustomerID(ctx, s.db, charge.CustomerID)
	}
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: charge %s", paymentdomain.ErrRecordNotFound, charge.ID)
	}

	completed, err := s.repo.CompleteApprovedRefunds(ctx, s.db, record.ID, now)
	if err != nil {
		return err
	}
	if completed > 0 {
		s.log.Info("refund requests completed", zap.String("user_id", record.UserID), zap.Int64("count", completed))
	}

	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}
	cancelFlag := false
	return s.setEntitlement(ctx, record, subscriptiondomain.EntitlementUpdate{
		TierID: freeID,
		Status: subscriptiondomain.StatusCanceled,
		Changes: subscriptiondomain.Changes{
			CanceledAt:        &now,
			CancelAtPeriodEnd: &cancelFlag,
		},
	})
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	intent := event.PaymentIntent
	if intent == nil {
		return errMissingObject
	}

	record, err := s.recordForIntent(ctx, intent)
	if err != nil {
		return err
	}

	tierName := strings.ToLower(strings.TrimSpace(intent.Metadata["tier"]))
	if tierName == "" {
		tierName = catalogdomain.TierPremium
	}
	tierID, err := s.catalog.TierIDByName(ctx, tierName)
	if errors.Is(err, catalogdomain.ErrTierNotFound) && tierName != catalogdomain.TierPremium {
		s.log.Warn("unknown tier in payment metadata, using premium", zap.String("tier", tierName))
		tierID, err = s.catalog.TierIDByName(ctx, catalogdomain.TierPremium)
	}
	if err != nil {
		return err
	}

	return s.setEntitlement(ctx, record, subscriptiondomain.EntitlementUpdate{
		TierID: tierID,
		Status: subscriptiondomain.StatusActive,
	})
}

func (s *Service) handlePaymentIntentFailed(ctx context.Context, event *paymentdomain.ProviderEvent) error {
	intent := event.PaymentIntent
	if intent == nil {
		return errMissingObject
	}

	record, err := s.recordForIntent(ctx, intent)
	if err != nil {
		return err
	}
	if record.Status == subscriptiondomain.StatusCanceled {
		return nil
	}

	s.log.Info("payment intent failed",
		zap.String("user_id", record.UserID),
		zap.String("payment_intent_id", intent.ID),
		zap.String("reason", intent.LastError))
	return s.updateProviderState(ctx, record, subscriptiondomain.StatusPaymentFailed, subscriptiondomain.Changes{})
}

// upsertFromSubscription writes the full record from a subscription
// snapshot. A created event for a subscription that is already linked is
// older than whatever was applied since, so it only refreshes bounds.
func (s *Service) upsertFromSubscription(ctx context.Context, sub *paymentdomain.SubscriptionObject, created bool) error {
	existing, err := s.subRepo.FindByProviderSubscriptionID(ctx, s.db, sub.ID)
	if err != nil {
		return err
	}

	status := MapStripeStatus(sub.Status)
	if existing != nil && created && status != subscriptiondomain.StatusCanceled {
		status = existing.Status
	}

	current := existing
	if current == nil {
		userID, err := s.resolveUser(ctx, sub.Metadata, sub.CustomerID)
		if err != nil {
			return err
		}
		current, err = s.subRepo.FindByUserID(ctx, s.db, userID)
		if err != nil {
			return err
		}
		if current == nil {
			current = &subscriptiondomain.SubscriptionRecord{UserID: userID}
		}
	}

	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}
	tierID := freeID
	if current.ID != 0 && status != subscriptiondomain.StatusCanceled {
		tierID = current.TierID
	}

	now := s.clock.Now(ctx)
	record := *current
	if record.ID == 0 {
		record.ID = s.genID.Generate()
		record.CreatedAt = now
	}
	record.TierID = tierID
	record.Status = status
	record.Provider = subscriptiondomain.ProviderStripe
	record.ProviderCustomerID = subscriptiondomain.StringPtr(sub.CustomerID)
	record.ProviderSubscriptionID = subscriptiondomain.StringPtr(sub.ID)
	if cycle, ok := s.cycleFor(sub); ok {
		record.BillingCycle = cycle
	}
	record.CurrentPeriodStart = sub.CurrentPeriodStart
	record.CurrentPeriodEnd = sub.CurrentPeriodEnd
	record.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	record.CanceledAt = sub.CanceledAt
	if status == subscriptiondomain.StatusCanceled && record.CanceledAt == nil {
		record.CanceledAt = &now
	}
	record.UpdatedAt = now

	if err := record.Validate(freeID); err != nil {
		return err
	}
	if err := s.subRepo.Upsert(ctx, s.db, &record); err != nil {
		return err
	}
	s.recorder.SubscriptionTransition(string(status), transitionSource)
	return nil
}

func (s *Service) insertRecord(ctx context.Context, userID string, update subscriptiondomain.EntitlementUpdate) error {
	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}

	now := s.clock.Now(ctx)
	record := subscriptiondomain.SubscriptionRecord{
		ID:        s.genID.Generate(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}.Apply(update)
	if err := record.Validate(freeID); err != nil {
		return err
	}
	if err := s.subRepo.Upsert(ctx, s.db, &record); err != nil {
		return err
	}
	s.recorder.SubscriptionTransition(string(update.Status), transitionSource)
	return nil
}

func (s *Service) setEntitlement(ctx context.Context, record *subscriptiondomain.SubscriptionRecord, update subscriptiondomain.EntitlementUpdate) error {
	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}
	projected := record.Apply(update)
	if err := projected.Validate(freeID); err != nil {
		return err
	}

	updated, err := s.subRepo.SetEntitlement(ctx, s.db, record.UserID, update, s.clock.Now(ctx))
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: user %s", paymentdomain.ErrRecordNotFound, record.UserID)
	}
	s.recorder.SubscriptionTransition(string(update.Status), transitionSource)
	return nil
}

func (s *Service) updateProviderState(ctx context.Context, record *subscriptiondomain.SubscriptionRecord, status subscriptiondomain.Status, changes subscriptiondomain.Changes) error {
	freeID, err := s.catalog.TierIDByName(ctx, catalogdomain.TierFree)
	if err != nil {
		return err
	}
	projected := record.WithChanges(changes)
	projected.Status = status
	if err := projected.Validate(freeID); err != nil {
		return err
	}

	updated, err := s.subRepo.UpdateProviderState(ctx, s.db, record.UserID, status, changes, s.clock.Now(ctx))
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("%w: user %s", paymentdomain.ErrRecordNotFound, record.UserID)
	}
	s.recorder.SubscriptionTransition(string(status), transitionSource)
	return nil
}

func (s *Service) appendTransaction(
	ctx context.Context,
	event *paymentdomain.ProviderEvent,
	record *subscriptiondomain.SubscriptionRecord,
	fallbackUserID string,
	paymentID string,
	invoiceID string,
	amount int64,
	currency string,
	status paymentdomain.TransactionStatus,
	metadata map[string]any,
) error {
	now := s.clock.Now(ctx)
	txn := &paymentdomain.Transaction{
		ID:                s.genID.Generate(),
		UserID:            strings.TrimSpace(fallbackUserID),
		Provider:          transitionSource,
		ProviderPaymentID: paymentID,
		ProviderInvoiceID: invoiceID,
		Amount:            amount,
		Currency:          currency,
		Status:            status,
		Metadata:          datatypes.JSONMap{"event_id": event.ID},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for k, v := range metadata {
		if v != "" {
			txn.Metadata[k] = v
		}
	}
	if record != nil {
		id := record.ID
		txn.SubscriptionRecordID = &id
		txn.UserID = record.UserID
	}

	inserted, err := s.repo.Append(ctx, s.db, txn)
	if err != nil {
		s.log.Error("failed to append transaction", zap.String("provider_payment_id", paymentID), zap.Error(err))
		return err
	}
	if !inserted {
		s.log.Info("transaction already recorded", zap.String("provider_payment_id", paymentID))
	}
	return nil
}

func (s *Service) recordForInvoice(ctx context.Context, inv *paymentdomain.InvoiceObject) (*subscriptiondomain.SubscriptionRecord, error) {
	if inv.SubscriptionID != "" {
		record, err := s.subRepo.FindByProviderSubscriptionID(ctx, s.db, inv.SubscriptionID)
		if err != nil || record != nil {
			return record, err
		}
	}
	if inv.CustomerID != "" {
		record, err := s.subRepo.FindByProviderCustomerID(ctx, s.db, inv.CustomerID)
		if err != nil || record != nil {
			return record, err
		}
	}
	if userID := strings.TrimSpace(inv.Metadata["user_id"]); userID != "" {
		return s.subRepo.FindByUserID(ctx, s.db, userID)
	}
	return nil, nil
}

func (s *Service) recordForIntent(ctx context.Context, intent *paymentdomain.PaymentIntentObject) (*subscriptiondomain.SubscriptionRecord, error) {
	var record *subscriptiondomain.SubscriptionRecord
	var err error
	if userID := strings.TrimSpace(intent.Metadata["user_id"]); userID != "" {
		record, err = s.subRepo.FindByUserID(ctx, s.db, userID)
	} else if intent.CustomerID != "" {
		record, err = s.subRepo.FindByProviderCustomerID(ctx, s.db, intent.CustomerID)
	}
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: payment intent %s", paymentdomain.ErrRecordNotFound, intent.ID)
	}
	return record, nil
}

func (s *Service) resolveUser(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID := strings.TrimSpace(metadata["user_id"]); userID != "" {
		return userID, nil
	}
	if customerID != "" {
		record, err := s.subRepo.FindByProviderCustomerID(ctx, s.db, customerID)
		if err != nil {
			return "", err
		}
		if record != nil {
			return record.UserID, nil
		}
	}
	return "", fmt.Errorf("%w: customer %s", paymentdomain.ErrUserNotResolved, customerID)
}

func (s *Service) cycleFor(sub *paymentdomain.SubscriptionObject) (catalogdomain.BillingCycle, bool) {
	if cycle, ok := catalogdomain.NormalizeBillingCycle(sub.Interval); ok {
		return cycle, true
	}
	return s.catalog.CycleForPriceID(sub.PriceID)
}
