package service

import (
	"context"

	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/metrics"
	"transit-pulse/internal/ports"
)

// proximityOptInCost is the credit price of the destination-proximity
// watcher for non-premium riders.
const proximityOptInCost = 15

const featureProximityAlerts = "proximity_alerts"

type rewardService struct {
	logger     *logger.Logger
	metrics    *metrics.Collector
	uow        ports.UnitOfWork
	rewardRepo ports.RewardRepository
	riderRepo  ports.RiderRepository
}

func NewRewardService(
	log *logger.Logger,
	collector *metrics.Collector,
	uow ports.UnitOfWork,
	rewardRepo ports.RewardRepository,
	riderRepo ports.RiderRepository,
) ports.RewardService {
	return &rewardService{
		logger:     log,
		metrics:    collector,
		uow:        uow,
		rewardRepo: rewardRepo,
		riderRepo:  riderRepo,
	}
}

func (service *rewardService) Balance(ctx context.Context, riderID string) (ports.BalanceResult, error) {
	var balance int
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		balance, err = service.rewardRepo.BalanceOf(txCtx, riderID)
		return err
	})
	if err != nil {
		return ports.BalanceResult{}, err
	}
	return ports.BalanceResult{RiderID: riderID, Balance: balance}, nil
}

// PurchaseProximityAlerts spends credits and flips the rider's opt-in in one
// transaction. The conditional decrement inside Spend rejects riders who
// cannot afford it; premium riders may overdraw.
func (service *rewardService) PurchaseProximityAlerts(ctx context.Context, riderID string) (ports.PurchaseResult, error) {
	var balance int
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.rewardRepo.Spend(txCtx, riderID, proximityOptInCost, "proximity alerts opt-in"); err != nil {
			return err
		}
		if err := service.riderRepo.SetProximityOptIn(txCtx, riderID, true); err != nil {
			return err
		}
		var err error
		balance, err = service.rewardRepo.BalanceOf(txCtx, riderID)
		return err
	})
	if err != nil {
		return ports.PurchaseResult{}, err
	}

	if service.metrics != nil {
		service.metrics.CreditsSpent.Add(float64(proximityOptInCost))
	}
	service.logger.Info(ctx, "proximity_purchased", "Proximity alerts enabled via credit spend", map[string]any{
		"rider_id": riderID,
		"cost":     proximityOptInCost,
	})
	return ports.PurchaseResult{
		RiderID: riderID,
		Balance: balance,
		Feature: featureProximityAlerts,
		Message: "destination proximity alerts enabled",
	}, nil
}
