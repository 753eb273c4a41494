package bootstrap

import (
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/alerting"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/config"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/dedup"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/extractor"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/notify"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/pricedata"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/queue"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/scraper"
)

// Role names a pipeline stage a process can run.
type Role string

// Pipeline roles.
const (
	RoleWorker    Role = "worker"
	RoleProcessor Role = "processor"
	RoleAlerts    Role = "alerts"
)

// AllRoles lists every role in pipeline order.
var AllRoles = []Role{RoleWorker, RoleProcessor, RoleAlerts}

// consumerConfig derives a per-role consumer group so each stage keeps its
// own delivery cursor.
func consumerConfig(cfg *config.Config, suffix string, concurrency int) queue.ConsumerConfig {
	cc := cfg.Consumer
	cc.Group = cc.Group + "-" + suffix
	if cc.Name != "" {
		cc.Name = cc.Name + "-" + suffix
	}
	if concurrency > 0 {
		cc.Concurrency = concurrency
	}
	return cc
}

// SetupWorker builds the scrape worker consumer.
func SetupWorker(deps *Deps, infra *Infra, fetch *FetchComponents) *queue.Consumer {
	cfg := deps.Config

	var runLogs scraper.RunLogStore
	if !cfg.Worker.DisableRunLog {
		runLogs = database.NewScrapeRunLogRepository(infra.DB)
	}

	handler := scraper.NewHandler(
		fetch.Client,
		extractor.New(deps.Logger),
		infra.Publisher,
		runLogs,
		cfg.Streams,
		deps.Logger,
		infra.Metrics,
	)
	return queue.NewConsumer(
		infra.Redis,
		cfg.Streams.ScrapeCommands,
		consumerConfig(cfg, "scraper", cfg.Worker.Concurrency),
		handler,
		deps.Logger,
		infra.Metrics,
	)
}

// SetupProcessor builds the price data and scrape result consumers.
func SetupProcessor(deps *Deps, infra *Infra) []*queue.Consumer {
	cfg := deps.Config

	processor := pricedata.NewProcessor(
		database.NewPriceHistoryRepository(infra.DB),
		infra.Publisher,
		dedup.NewTracker(infra.Redis, cfg.Processor.DedupTTL, deps.Logger),
		cfg.Streams,
		deps.Logger,
		infra.Metrics,
	)
	results := pricedata.NewResultHandler(database.NewMappingRepository(infra.DB), deps.Logger)

	return []*queue.Consumer{
		queue.NewConsumer(
			infra.Redis,
			cfg.Streams.RawPriceData,
			consumerConfig(cfg, "processor", 0),
			processor,
			deps.Logger,
			infra.Metrics,
		),
		queue.NewConsumer(
			infra.Redis,
			cfg.Streams.ScrapeResults,
			consumerConfig(cfg, "results", 0),
			results,
			deps.Logger,
			infra.Metrics,
		),
	}
}

// SetupAlerts builds the alert evaluation consumer.
func SetupAlerts(deps *Deps, infra *Infra) (*queue.Consumer, error) {
	cfg := deps.Config

	dispatcher, err := BuildDispatcher(deps, infra)
	if err != nil {
		return nil, err
	}
	engine := alerting.NewEngine(
		database.NewAlertRuleRepository(infra.DB),
		database.NewPriceHistoryRepository(infra.DB),
		dispatcher,
		deps.Logger,
		infra.Metrics,
	)
	return queue.NewConsumer(
		infra.Redis,
		cfg.Streams.PricePoints,
		consumerConfig(cfg, "alerts", 0),
		engine,
		deps.Logger,
		infra.Metrics,
	), nil
}

// BuildDispatcher creates the configured alert dispatchers.
func BuildDispatcher(deps *Deps, infra *Infra) (notify.Dispatcher, error) {
	cfg := deps.Config

	dispatchers := make(notify.MultiDispatcher, 0, len(cfg.Alerts.Dispatchers))
	for _, name := range cfg.Alerts.Dispatchers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case config.DispatcherStream:
			dispatchers = append(dispatchers, notify.NewStreamDispatcher(infra.Publisher, cfg.Streams.Alerts))
		case config.DispatcherWebhook:
			dispatchers = append(dispatchers, notify.NewWebhookDispatcher(cfg.Webhook, deps.Logger))
		case config.DispatcherLog:
			dispatchers = append(dispatchers, notify.NewLogDispatcher(deps.Logger))
		default:
			return nil, fmt.Errorf("unknown alert dispatcher %q", name)
		}
	}
	if len(dispatchers) == 1 {
		return dispatchers[0], nil
	}
	return dispatchers, nil
}

// ParseRoles converts role names, accepting "all".
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		switch Role(strings.ToLower(name)) {
		case "all":
			return AllRoles, nil
		case RoleWorker, RoleProcessor, RoleAlerts:
			roles = append(roles, Role(strings.ToLower(name)))
		default:
			return nil, fmt.Errorf("unknown role %q", name)
		}
	}
	return roles, nil
}
