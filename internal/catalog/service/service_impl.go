package service

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/subtrackhq/subtrack/internal/catalog/domain"
	"github.com/subtrackhq/subtrack/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Cfg  config.Config
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository

	priceMonthly string
	priceYearly  string

	mu     sync.RWMutex
	byName map[string]*domain.Tier
	byID   map[snowflake.ID]*domain.Tier
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("catalog.service"),
		repo:         p.Repo,
		priceMonthly: p.Cfg.Billing.PriceIDMonthly,
		priceYearly:  p.Cfg.Billing.PriceIDYearly,
		byName:       make(map[string]*domain.Tier),
		byID:         make(map[snowflake.ID]*domain.Tier),
	}
}

func (s *Service) TierIDByName(ctx context.Context, name string) (snowflake.ID, error) {
	tier, err := s.tierByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return tier.ID, nil
}

func (s *Service) TierByID(ctx context.Context, id snowflake.ID) (*domain.Tier, error) {
	s.mu.RLock()
	tier, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return tier, nil
	}

	// Only two tiers exist; loading all of them fills the cache in one query.
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for i := range items {
		s.remember(&items[i])
	}

	s.mu.RLock()
	tier, ok = s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) tierByName(ctx context.Context, name string) (*domain.Tier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, domain.ErrTierNotFound
	}

	s.mu.RLock()
	tier, ok := s.byName[name]
	s.mu.RUnlock()
	if ok {
		return tier, nil
	}

	tier, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		s.log.Warn("tier missing from catalog", zap.String("tier", name))
		return nil, domain.ErrTierNotFound
	}
	s.remember(tier)
	return tier, nil
}

func (s *Service) remember(tier *domain.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[tier.Name] = tier
	s.byID[tier.ID] = tier
}

func (s *Service) PriceIDForCycle(cycle domain.BillingCycle) (string, error) {
	var priceID string
	switch cycle {
	case domain.BillingCycleMonthly:
		priceID = s.priceMonthly
	case domain.BillingCycleYearly:
		priceID = s.priceYearly
	default:
		return "", domain.ErrInvalidBillingCycle
	}
	if priceID == "" {
		return "", domain.ErrPriceNotConfigured
	}
	return priceID, nil
}

func (s *Service) CycleForPriceID(priceID string) (domain.BillingCycle, bool) {
	switch {
	case priceID == "":
		return "", false
	case priceID == s.priceMonthly:
		return domain.BillingCycleMonthly, true
	case priceID == s.priceYearly:
		return domain.BillingCycleYearly, true
	default:
		return "", false
	}
}
