package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EventDef is one rate-card entry of the seed catalog.
type EventDef struct {
	Key                string  `mapstructure:"key" validate:"required"`
	DisplayName        string  `mapstructure:"displayName"`
	Description        string  `mapstructure:"description"`
	UnitName           string  `mapstructure:"unit"`
	CreditsPerUnit     float64 `mapstructure:"creditsPerUnit" validate:"gte=0"`
	ListPricePerCredit float64 `mapstructure:"listPricePerCredit" validate:"gte=0"`
	Billable           bool    `mapstructure:"billable"`
	Active             bool    `mapstructure:"active"`
}

type CapabilityDef struct {
	Key         string `mapstructure:"key" validate:"required"`
	Description string `mapstructure:"description"`
}

type EventCapDef struct {
	EventKey    string  `mapstructure:"eventKey" validate:"required"`
	Period      string  `mapstructure:"period" validate:"omitempty,oneof=monthly"`
	CapRawUnits float64 `mapstructure:"capRawUnits" validate:"gte=0"`
}

type PlanDef struct {
	ID                    string        `mapstructure:"id" validate:"required"`
	Name                  string        `mapstructure:"name"`
	IncludedCredits       float64       `mapstructure:"includedCredits" validate:"gte=0"`
	OveragePricePerCredit float64       `mapstructure:"overagePricePerCredit" validate:"gte=0"`
	Capabilities          []string      `mapstructure:"capabilities" validate:"dive,required"`
	EventCaps             []EventCapDef `mapstructure:"eventCaps" validate:"dive"`
}

// DailyLimitDef is the per-tenant daily raw unit limit applied to an event
// until an admin overrides it for a tenant.
type DailyLimitDef struct {
	EventKey string  `mapstructure:"eventKey" validate:"required"`
	Limit    float64 `mapstructure:"limit" validate:"gte=0"`
}

// Catalog is the default rate card, capability set and plan tiers seeded into
// the store, plus the default daily limits read live by the limiter.
type Catalog struct {
	Events       []EventDef      `mapstructure:"events" validate:"required,min=1,dive"`
	Capabilities []CapabilityDef `mapstructure:"capabilities" validate:"dive"`
	Plans        []PlanDef       `mapstructure:"plans" validate:"required,min=1,dive"`
	DailyLimits  []DailyLimitDef `mapstructure:"dailyLimits" validate:"dive"`
}

// DailyLimit returns the default daily limit for eventKey.
func (c Catalog) DailyLimit(eventKey string) (float64, bool) {
	eventKey = strings.TrimSpace(eventKey)
	for _, d := range c.DailyLimits {
		if strings.TrimSpace(d.EventKey) == eventKey {
			return d.Limit, true
		}
	}
	return 0, false
}

const defaultListPricePerCredit = 0.02

func DefaultCatalog() Catalog {
	capabilities := []CapabilityDef{
		{Key: "chat", Description: "Assistant chat"},
		{Key: "tools", Description: "Tool invocation"},
		{Key: "briefs", Description: "Daily brief generation"},
		{Key: "notifications", Description: "Notification delivery"},
		{Key: "kpi_ingest", Description: "KPI definition and point ingestion"},
		{Key: "kpi_read", Description: "KPI reads"},
	}
	allCaps := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		allCaps = append(allCaps, c.Key)
	}

	return Catalog{
		Events: []EventDef{
			{Key: "assistant_query", DisplayName: "Assistant query", Description: "One assistant chat turn", UnitName: "call", CreditsPerUnit: 1.0, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
			{Key: "tool_invocation", DisplayName: "Tool invocation", Description: "One tool call through the gateway", UnitName: "call", CreditsPerUnit: 2.0, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
			{Key: "daily_brief_generated", DisplayName: "Daily brief", Description: "One generated daily brief", UnitName: "brief", CreditsPerUnit: 5.0, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
			{Key: "notification_enqueued", DisplayName: "Notification", Description: "One queued notification", UnitName: "notification", CreditsPerUnit: 0.2, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
			{Key: "kpi_definition_created", DisplayName: "KPI definition", Description: "One created KPI definition", UnitName: "kpi", CreditsPerUnit: 0.5, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
			{Key: "kpi_points_ingested", DisplayName: "KPI points", Description: "Ingested KPI data points", UnitName: "row", CreditsPerUnit: 0.001, ListPricePerCredit: defaultListPricePerCredit, Billable: true, Active: true},
		},
		Capabilities: capabilities,
		Plans: []PlanDef{
			{
				ID: "starter", Name: "Starter", IncludedCredits: 500, OveragePricePerCredit: 0.02,
				Capabilities: allCaps,
				EventCaps: []EventCapDef{
					{EventKey: "daily_brief_generated", Period: "monthly", CapRawUnits: 50},
					{EventKey: "tool_invocation", Period: "monthly", CapRawUnits: 2000},
				},
			},
			{ID: "growth", Name: "Growth", IncludedCredits: 2000, OveragePricePerCredit: 0.015, Capabilities: allCaps},
			{ID: "scale", Name: "Scale", IncludedCredits: 10000, OveragePricePerCredit: 0.01, Capabilities: allCaps},
		},
		DailyLimits: []DailyLimitDef{
			{EventKey: "assistant_query", Limit: 100},
			{EventKey: "tool_invocation", Limit: 100},
			{EventKey: "daily_brief_generated", Limit: 10},
			{EventKey: "notification_enqueued", Limit: 500},
		},
	}
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog

	mu        sync.Mutex
	listeners []func(Catalog)
}

// NewStaticCatalogHolder serves a fixed catalog, for tests and one-shot commands.
func NewStaticCatalogHolder(c Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(c)
	return holder
}

// NewCatalogHolder reads catalog.yml (or CATALOG_PATH) and keeps it hot-reloaded.
// Without a file the built-in catalog is used.
func NewCatalogHolder(cfg Config, log *zap.Logger) (*CatalogHolder, error) {
	log = log.Named("catalog.config")
	v := viper.New()

	if cfg.CatalogPath != "" {
		v.SetConfigFile(cfg.CatalogPath)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creditmeter")
		v.AddConfigPath("/var/lib/creditmeter/config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("catalog file not found, using built-in catalog")
		return NewStaticCatalogHolder(DefaultCatalog()), nil
	}

	var catalog Catalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if err := ValidateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(catalog)
	log.Info("catalog loaded", zap.String("file", v.ConfigFileUsed()))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Catalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		if err := ValidateCatalog(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
		holder.notify(updated)
	})

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

// OnChange registers fn to run after every successful reload.
func (h *CatalogHolder) OnChange(fn func(Catalog)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *CatalogHolder) notify(c Catalog) {
	h.mu.Lock()
	listeners := append([]func(Catalog){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

var catalogValidator = newCatalogValidator()

func newCatalogValidator() *validator.Validate {
	v := validator.New()
	// report the yaml key instead of the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateCatalog rejects catalogs the seeder could not apply consistently.
func ValidateCatalog(c Catalog) error {
	if err := catalogValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	events := make(map[string]struct{}, len(c.Events))
	for _, e := range c.Events {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			return errors.New("catalog event key cannot be blank")
		}
		events[key] = struct{}{}
	}

	caps := make(map[string]struct{}, len(c.Capabilities))
	for _, cp := range c.Capabilities {
		caps[strings.TrimSpace(cp.Key)] = struct{}{}
	}

	for _, p := range c.Plans {
		if strings.TrimSpace(p.ID) == "" {
			return errors.New("catalog plan id cannot be blank")
		}
		for _, key := range p.Capabilities {
			if _, ok := caps[strings.TrimSpace(key)]; !ok {
				return fmt.Errorf("catalog plan %s references unknown capability %s", p.ID, key)
			}
		}
		for _, ec := range p.EventCaps {
			if _, ok := events[strings.TrimSpace(ec.EventKey)]; !ok {
				return fmt.Errorf("catalog plan %s caps unknown event %s", p.ID, ec.EventKey)
			}
		}
	}

	limited := make(map[string]struct{}, len(c.DailyLimits))
	for _, d := range c.DailyLimits {
		key := strings.TrimSpace(d.EventKey)
		if _, ok := events[key]; !ok {
			return fmt.Errorf("catalog daily limit references unknown event %s", d.EventKey)
		}
		if _, dup := limited[key]; dup {
			return fmt.Errorf("catalog daily limit for %s is declared twice", key)
		}
		limited[key] = struct{}{}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Catalog.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
