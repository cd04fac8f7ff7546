package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/creditmeter/internal/audit/domain"
	"github.com/smallbiznis/creditmeter/internal/audit/masking"
	"github.com/smallbiznis/creditmeter/internal/clock"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/smallbiznis/creditmeter/pkg/repository"
	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
	store repository.Repository[auditdomain.AuditLog]
}

func New(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		store: repository.ProvideStore[auditdomain.AuditLog](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, in auditdomain.Entry) (*auditdomain.AuditLog, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, auditdomain.ErrInvalidTenant
	}
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}

	payload := map[string]any{}
	for key, value := range masking.MaskJSON(in.Metadata) {
		payload[key] = value
	}

	entry := auditdomain.AuditLog{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		UserID:    strings.TrimSpace(in.UserID),
		Action:    action,
		ToolName:  strings.TrimSpace(in.ToolName),
		RequestID: correlation.Resolve(ctx, in.RequestID),
		Metadata:  datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, dbpkg.Conn(ctx, s.db), &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return nil, err
	}
	return &entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) ([]auditdomain.AuditLog, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, auditdomain.ErrInvalidTenant
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.store.Find(ctx,
		&auditdomain.AuditLog{TenantID: tenantID, Action: strings.TrimSpace(req.Action)},
		repository.WithOrder("created_at desc, id desc"),
		repository.WithLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return logs, nil
}
