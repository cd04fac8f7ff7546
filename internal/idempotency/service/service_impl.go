package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    idempotencydomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    idempotencydomain.Repository
	metrics *obsmetrics.Metrics
}

func New(p Params) idempotencydomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("idempotency.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Check(ctx context.Context, req idempotencydomain.CheckRequest) (*jsonvalue.Value, error) {
	tenantID, endpoint, key, err := normalizeScope(req.TenantID, req.Endpoint, req.Key)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.Find(ctx, dbpkg.Conn(ctx, s.db), tenantID, endpoint, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if rec.RequestHash != idempotencydomain.RequestHash(req.Body) {
		s.metrics.RecordIdempotencyConflict(ctx, endpoint)
		obslogger.WithContext(ctx, s.log).Info("idempotency key reused with a different body",
			zap.String("tenant_id", tenantID),
			zap.String("endpoint", endpoint),
			zap.String("idempotency_key", key),
		)
		return nil, &idempotencydomain.IdempotencyConflictError{TenantID: tenantID, Endpoint: endpoint, Key: key}
	}

	response, err := jsonvalue.Parse(rec.ResponseJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", idempotencydomain.ErrCorruptStoredPayload, err)
	}
	s.metrics.RecordIdempotencyReplay(ctx, endpoint)
	return &response, nil
}

func (s *Service) Store(ctx context.Context, req idempotencydomain.StoreRequest) error {
	tenantID, endpoint, key, err := normalizeScope(req.TenantID, req.Endpoint, req.Key)
	if err != nil {
		return err
	}

	rec := &idempotencydomain.IdempotencyRecord{
		ID:             s.genID.Generate(),
		TenantID:       tenantID,
		Endpoint:       endpoint,
		IdempotencyKey: key,
		RequestHash:    idempotencydomain.RequestHash(req.Body),
		ResponseJSON:   datatypes.JSON(req.Response.Canonical()),
		CreatedAt:      s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, dbpkg.Conn(ctx, s.db), rec); err != nil {
		if dbpkg.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %w", idempotencydomain.ErrIdempotencyKeyRaced, err)
		}
		return err
	}
	return nil
}

func normalizeScope(tenantID, endpoint, key string) (string, string, string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", "", "", idempotencydomain.ErrInvalidTenant
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", "", "", idempotencydomain.ErrInvalidEndpoint
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", "", idempotencydomain.ErrInvalidKey
	}
	return tenantID, endpoint, key, nil
}
