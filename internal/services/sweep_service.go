package services

import (
	"context"
	"errors"
	"log"
)

// SweepReport - итог одного прохода обслуживания.
type SweepReport struct {
	ExpiredOffers       int `json:"expiredOffers"`
	ExpiredNegotiations int `json:"expiredNegotiations"`
	ReconciledOrphans   int `json:"reconciledOrphans"`
}

// SweepService закрывает просроченные предложения и переговоры и дочищает
// переговоры, которые не удалось отклонить после продажи.
type SweepService struct {
	offers       *OfferService
	negotiations *NegotiationService
	logger       *log.Logger
}

// NewSweepService создаёт новый экземпляр SweepService.
func NewSweepService(offers *OfferService, negotiations *NegotiationService, logger *log.Logger) *SweepService {
	return &SweepService{offers: offers, negotiations: negotiations, logger: logger}
}

// Run выполняет проход. Повторный запуск без новых данных ничего не меняет.
func (s *SweepService) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error

	offers, err := s.offers.ExpireStaleOffers(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.ExpiredOffers = len(offers)

	negotiations, err := s.negotiations.ExpireDueNegotiations(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.ExpiredNegotiations = len(negotiations)

	orphans, err := s.negotiations.ReconcileOrphans(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.ReconciledOrphans = len(orphans)

	s.logger.Printf("[sweep] expired offers=%d negotiations=%d, reconciled=%d",
		report.ExpiredOffers, report.ExpiredNegotiations, report.ReconciledOrphans)
	return report, errors.Join(errs...)
}
