package service

import (
	"context"
	"fmt"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/ports"
)

const (
	// Credits granted when a second rider vouches for a report.
	reporterConfirmCredit = 2
	confirmerCredit       = 1

	defaultNearbyRadiusMeters = 500.0
	maxNearbyRadiusMeters     = 2000.0
)

type reportService struct {
	logger     *logger.Logger
	uow        ports.UnitOfWork
	reportRepo ports.ReportRepository
	rewardRepo ports.RewardRepository
	index      *nearbyIndex
}

// NewReportService builds the incident report boundary. Call WarmIndex once
// at startup to seed the nearby index from storage.
func NewReportService(
	log *logger.Logger,
	uow ports.UnitOfWork,
	reportRepo ports.ReportRepository,
	rewardRepo ports.RewardRepository,
) ports.ReportService {
	return &reportService{
		logger:     log,
		uow:        uow,
		reportRepo: reportRepo,
		rewardRepo: rewardRepo,
		index:      newNearbyIndex(),
	}
}

// WarmIndex loads every live report into the nearby index. Meant for
// process startup; safe to skip in tests.
func (service *reportService) WarmIndex(ctx context.Context) error {
	var live []*report.Report
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		live, err = service.reportRepo.ListLive(txCtx, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("warming report index: %w", err)
	}
	for _, r := range live {
		service.index.add(r)
	}
	service.logger.Info(ctx, "report_index_warmed", "Nearby report index warmed", map[string]any{
		"reports": len(live),
	})
	return nil
}

func (service *reportService) CreateReport(ctx context.Context, in ports.CreateReportInput) (ports.ReportView, error) {
	r, err := report.New(in.RiderID, in.RouteID, report.Type(in.Type), in.Latitude, in.Longitude, in.Description)
	if err != nil {
		return ports.ReportView{}, err
	}

	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return service.reportRepo.Create(txCtx, r)
	})
	if err != nil {
		service.logger.Error(ctx, "report_create_failed", "Failed to store report", err, nil)
		return ports.ReportView{}, err
	}

	service.index.add(r)
	service.logger.Info(ctx, "report_created", "Incident report created", map[string]any{
		"report_id": r.ID,
		"type":      string(r.Type),
	})
	return viewOf(r), nil
}

func (service *reportService) ConfirmReport(ctx context.Context, reportID, confirmerID string) (ports.ReportView, error) {
	var confirmed *report.Report
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := service.reportRepo.GetByID(txCtx, reportID)
		if err != nil {
			return err
		}
		if !r.Live(time.Now().UTC()) {
			return report.ErrAlreadyClosed
		}
		if r.RiderID == confirmerID {
			return report.ErrOwnConfirm
		}

		count, err := service.reportRepo.IncrementConfirmations(txCtx, reportID)
		if err != nil {
			return err
		}
		r.Confirmations = count

		reporterBonus, err := reward.New(r.RiderID, reporterConfirmCredit, reward.CategoryBonus, "report confirmed by another rider")
		if err != nil {
			return err
		}
		if err := service.rewardRepo.Award(txCtx, reporterBonus); err != nil {
			return err
		}
		confirmerBonus, err := reward.New(confirmerID, confirmerCredit, reward.CategoryBonus, "confirmed a report")
		if err != nil {
			return err
		}
		if err := service.rewardRepo.Award(txCtx, confirmerBonus); err != nil {
			return err
		}

		confirmed = r
		return nil
	})
	if err != nil {
		return ports.ReportView{}, err
	}

	service.index.confirmations(confirmed.ID, confirmed.Latitude, confirmed.Longitude, confirmed.Confirmations)
	service.logger.Info(ctx, "report_confirmed", "Incident report confirmed", map[string]any{
		"report_id":     confirmed.ID,
		"confirmations": confirmed.Confirmations,
	})
	return viewOf(confirmed), nil
}

func (service *reportService) ResolveReport(ctx context.Context, reportID, riderID string) error {
	var resolved *report.Report
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := service.reportRepo.GetByID(txCtx, reportID)
		if err != nil {
			return err
		}
		if r.RiderID != riderID {
			return report.ErrNotOwner
		}
		if !r.IsActive {
			return report.ErrAlreadyClosed
		}
		if err := service.reportRepo.Resolve(txCtx, reportID, time.Now().UTC()); err != nil {
			return err
		}
		resolved = r
		return nil
	})
	if err != nil {
		return err
	}

	service.index.remove(resolved.Latitude, resolved.Longitude, resolved.ID)
	service.logger.Info(ctx, "report_resolved", "Incident report resolved", map[string]any{
		"report_id": resolved.ID,
	})
	return nil
}

// NearbyReports serves entirely from the in-memory index; storage is not
// touched on the read path.
func (service *reportService) NearbyReports(ctx context.Context, in ports.NearbyReportsInput) ([]ports.ReportView, error) {
	if err := geo.ValidateCoords(in.Lat, in.Lng); err != nil {
		return nil, err
	}
	radius := in.RadiusMeters
	if radius <= 0 {
		radius = defaultNearbyRadiusMeters
	}
	if radius > maxNearbyRadiusMeters {
		radius = maxNearbyRadiusMeters
	}

	live := service.index.query(in.Lat, in.Lng, radius, time.Now().UTC())
	out := make([]ports.ReportView, 0, len(live))
	for _, r := range live {
		out = append(out, viewOf(r))
	}
	return out, nil
}

func viewOf(r *report.Report) ports.ReportView {
	return ports.ReportView{
		ReportID:      r.ID,
		RiderID:       r.RiderID,
		RouteID:       r.RouteID,
		Type:          string(r.Type),
		Lat:           r.Latitude,
		Lng:           r.Longitude,
		Description:   r.Description,
		Confirmations: r.Confirmations,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ResolvedAt:    r.ResolvedAt,
	}
}
