package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/creditmeter/internal/audit/domain"
	"github.com/smallbiznis/creditmeter/internal/authorization"
	dailylimitdomain "github.com/smallbiznis/creditmeter/internal/dailylimit/domain"
	entitlementdomain "github.com/smallbiznis/creditmeter/internal/entitlement/domain"
	gatewaydomain "github.com/smallbiznis/creditmeter/internal/gateway/domain"
	idempotencydomain "github.com/smallbiznis/creditmeter/internal/idempotency/domain"
	obslogger "github.com/smallbiznis/creditmeter/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/internal/tools"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	dbpkg "github.com/smallbiznis/creditmeter/pkg/db"
	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
	"github.com/smallbiznis/creditmeter/pkg/telemetry"
	"github.com/smallbiznis/creditmeter/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	capabilityTools     = "tools"
	eventToolInvocation = "tool_invocation"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	SubSvc      subscriptiondomain.Service
	Entitlement entitlementdomain.Service
	DailyLimits dailylimitdomain.Service
	Idempotency idempotencydomain.Service
	Usage       usagedomain.Service
	Audit       auditdomain.Service
	Authz       authorization.Service
	Registry    *tools.Registry
	Metrics     *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	subSvc      subscriptiondomain.Service
	entitlement entitlementdomain.Service
	dailyLimits dailylimitdomain.Service
	idempotency idempotencydomain.Service
	usage       usagedomain.Service
	audit       auditdomain.Service
	authz       authorization.Service
	registry    *tools.Registry
	metrics     *telemetry.Metrics
}

func New(p Params) gatewaydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("gateway.service"),

		subSvc:      p.SubSvc,
		entitlement: p.Entitlement,
		dailyLimits: p.DailyLimits,
		idempotency: p.Idempotency,
		usage:       p.Usage,
		audit:       p.Audit,
		authz:       p.Authz,
		registry:    p.Registry,
		metrics:     p.Metrics,
	}
}

func (s *Service) Execute(ctx context.Context, op gatewaydomain.Operation) (*gatewaydomain.Result, error) {
	op, err := normalizeOperation(op)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	ctx = obslogger.WithTenant(ctx, op.TenantID)
	ctx, requestID := correlation.EnsureCorrelationID(ctx)

	var result *gatewaydomain.Result
	err = dbpkg.RunInTx(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		// held until commit; concurrent admissions of one tenant queue here
		if _, err := s.subSvc.Lock(ctx, op.TenantID); err != nil {
			return err
		}
		if err := s.entitlement.CheckEntitlement(ctx, op.TenantID, op.Capability); err != nil {
			return err
		}

		if op.IdempotencyKey != "" {
			stored, err := s.idempotency.Check(ctx, idempotencydomain.CheckRequest{
				TenantID: op.TenantID,
				Endpoint: op.Endpoint,
				Key:      op.IdempotencyKey,
				Body:     op.Body,
			})
			if err != nil {
				return err
			}
			if stored != nil {
				result = &gatewaydomain.Result{RequestID: requestID, Response: *stored, Replayed: true}
				return nil
			}
		}

		quota, err := s.entitlement.CheckQuota(ctx, op.TenantID, op.EventKey, op.RawUnits)
		if err != nil {
			return err
		}
		daily, err := s.dailyLimits.Check(ctx, op.TenantID, op.EventKey, op.RawUnits)
		if err != nil {
			return err
		}

		response, err := op.Perform(ctx, gatewaydomain.Execution{
			RequestID:        requestID,
			PeriodStart:      quota.PeriodStart,
			RequestedCredits: quota.RequestedCredits,
		})
		if err != nil {
			return err
		}

		recorded, err := s.usage.Record(ctx, usagedomain.RecordRequest{
			TenantID:      op.TenantID,
			UserID:        op.UserID,
			EventKey:      op.EventKey,
			RawUnits:      op.RawUnits,
			CorrelationID: requestID,
			ToolName:      op.ToolName,
		})
		if err != nil {
			return err
		}
		if err := s.dailyLimits.Increment(ctx, dailylimitdomain.IncrementRequest{
			TenantID: op.TenantID,
			Day:      daily.Day,
			EventKey: recorded.EventKey,
			RawUnits: recorded.RawUnits,
		}); err != nil {
			return err
		}

		if op.IdempotencyKey != "" {
			if err := s.idempotency.Store(ctx, idempotencydomain.StoreRequest{
				TenantID: op.TenantID,
				Endpoint: op.Endpoint,
				Key:      op.IdempotencyKey,
				Body:     op.Body,
				Response: response,
			}); err != nil {
				return err
			}
		}

		result = &gatewaydomain.Result{RequestID: requestID, Response: response, Usage: recorded}
		return nil
	})

	log := obslogger.WithContext(ctx, s.log)
	if err != nil {
		kind := gatewaydomain.Classify(err)
		s.metrics.ObserveAdmission(op.Endpoint, string(kind), time.Since(started))
		if kind == gatewaydomain.KindInternal {
			log.Error("admission failed", zap.String("endpoint", op.Endpoint), zap.Error(err))
		} else {
			log.Info("admission rejected",
				zap.String("endpoint", op.Endpoint),
				zap.String("kind", string(kind)),
				zap.String("code", gatewaydomain.Code(err)),
			)
		}
		return nil, err
	}

	outcome := "admitted"
	if result.Replayed {
		outcome = "replayed"
	}
	s.metrics.ObserveAdmission(op.Endpoint, outcome, time.Since(started))
	log.Debug("admission completed",
		zap.String("endpoint", op.Endpoint),
		zap.String("outcome", outcome),
		zap.String("event_key", op.EventKey),
	)
	return result, nil
}

func (s *Service) InvokeTool(ctx context.Context, req gatewaydomain.ToolInvokeRequest) (*gatewaydomain.ToolInvokeResponse, error) {
	toolName := strings.TrimSpace(req.ToolName)
	if toolName == "" {
		return nil, gatewaydomain.ErrInvalidToolName
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, gatewaydomain.ErrMissingIdempotencyKey
	}

	if err := s.authz.Authorize(ctx, req.TenantID, req.Role, authorization.ObjectTools, authorization.ActionInvoke); err != nil {
		return nil, err
	}

	tenantID := strings.TrimSpace(req.TenantID)
	userID := strings.TrimSpace(req.UserID)
	body := jsonvalue.Object(map[string]jsonvalue.Value{
		"tool_name": jsonvalue.String(toolName),
		"payload":   req.Payload,
	})

	res, err := s.Execute(ctx, gatewaydomain.Operation{
		TenantID:       tenantID,
		UserID:         userID,
		Endpoint:       gatewaydomain.EndpointToolInvoke,
		IdempotencyKey: key,
		Body:           body,
		Capability:     capabilityTools,
		EventKey:       eventToolInvocation,
		RawUnits:       1,
		ToolName:       toolName,
		Perform: func(ctx context.Context, exec gatewaydomain.Execution) (jsonvalue.Value, error) {
			out, err := s.registry.Invoke(ctx, toolName, req.Payload, tools.ToolContext{
				TenantID:  tenantID,
				UserID:    userID,
				RequestID: exec.RequestID,
			})
			if err != nil {
				return jsonvalue.Value{}, err
			}

			if _, err := s.audit.Record(ctx, auditdomain.Entry{
				TenantID:  tenantID,
				UserID:    userID,
				Action:    auditdomain.ActionToolInvoke,
				ToolName:  toolName,
				RequestID: exec.RequestID,
				Metadata: map[string]any{
					"period_start":      exec.PeriodStart,
					"requested_credits": exec.RequestedCredits,
				},
			}); err != nil {
				return jsonvalue.Value{}, err
			}

			return jsonvalue.From(gatewaydomain.ToolInvokeResponse{RequestID: exec.RequestID, Result: out})
		},
	})
	if err != nil {
		return nil, err
	}

	var out gatewaydomain.ToolInvokeResponse
	if err := json.Unmarshal(res.Response.Canonical(), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", gatewaydomain.ErrCorruptReplayedResponse, err)
	}
	out.Replayed = res.Replayed
	return &out, nil
}

func normalizeOperation(op gatewaydomain.Operation) (gatewaydomain.Operation, error) {
	op.TenantID = strings.TrimSpace(op.TenantID)
	op.UserID = strings.TrimSpace(op.UserID)
	op.Endpoint = strings.TrimSpace(op.Endpoint)
	op.IdempotencyKey = strings.TrimSpace(op.IdempotencyKey)
	op.Capability = strings.TrimSpace(op.Capability)
	op.EventKey = strings.TrimSpace(op.EventKey)
	op.ToolName = strings.TrimSpace(op.ToolName)

	if op.TenantID == "" || op.UserID == "" || op.Endpoint == "" ||
		op.Capability == "" || op.EventKey == "" || op.Perform == nil {
		return op, gatewaydomain.ErrInvalidOperation
	}
	return op, nil
}
