// Package kernel wires the supportflow infrastructure from configuration:
// LLM clients, the retrieval backend, the product catalog, the PDF library,
// session sinks and metrics. It hands out ready orchestrators bound to a
// user channel.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"supportflow/pkg/capability"
	"supportflow/pkg/config"
	"supportflow/pkg/engine"
	"supportflow/pkg/llm"
	"supportflow/pkg/llm/factory"
	"supportflow/pkg/logx"
	"supportflow/pkg/metrics"
	"supportflow/pkg/pdfdoc"
	"supportflow/pkg/persistence"
	"supportflow/pkg/products"
	"supportflow/pkg/retrieval"
	"supportflow/pkg/session"
	"supportflow/pkg/supportlog"
)

// Kernel holds the shared, session-independent services. It is safe to
// build several orchestrators from one kernel and run them concurrently.
type Kernel struct {
	Config config.Config
	Logger *logx.Logger

	Registry   *prometheus.Registry
	Recorder   metrics.Recorder
	LLMFactory *factory.LLMClientFactory
	Catalog    *products.Catalog
	Library    *pdfdoc.Library
	Retrieval  retrieval.Service
	Store      *persistence.Store
	Sink       supportlog.SessionLogger

	closers []func() error
}

// New builds the kernel. Nothing here contacts the retrieval backend; call
// Ready for that.
func New(ctx context.Context, cfg config.Config) (*Kernel, error) {
	k := &Kernel{
		Config:   cfg,
		Logger:   logx.NewLogger("kernel"),
		Registry: prometheus.NewRegistry(),
		Library:  pdfdoc.NewLibrary(cfg.PDF.Dir),
	}
	k.Registry.MustRegister(collectors.NewGoCollector())
	k.Recorder = metrics.NewPrometheusRecorder(k.Registry)
	k.LLMFactory = factory.NewLLMClientFactory(cfg.LLM, k.Recorder)

	if err := k.initialize(ctx); err != nil {
		_ = k.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kernel) initialize(ctx context.Context) error {
	catalog, err := products.LoadCatalog(k.Config.Products.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load product catalog: %w", err)
	}
	k.Catalog = catalog
	k.Logger.Info("Loaded %d products from %s", catalog.Len(), k.Config.Products.CatalogPath)

	backend, err := k.newBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to create %s retrieval backend: %w", k.Config.Retrieval.Backend, err)
	}
	if k.Retrieval, err = retrieval.NewCached(backend, k.Config.Retrieval.CacheSize); err != nil {
		return err
	}

	if k.Sink, err = k.newSink(ctx); err != nil {
		return err
	}
	return nil
}

func (k *Kernel) newBackend(ctx context.Context) (retrieval.Service, error) {
	rc := k.Config.Retrieval
	switch rc.Backend {
	case config.BackendWeaviate:
		return retrieval.NewWeaviate(retrieval.WeaviateOptions{
			Host:   rc.Weaviate.Host,
			Scheme: rc.Weaviate.Scheme,
			Class:  rc.Weaviate.Class,
			APIKey: os.Getenv(config.EnvWeaviateAPIKey),
		})
	case config.BackendPGVector:
		embedder, err := retrieval.NewOllamaEmbedder(k.ollamaHost(), rc.PGVector.EmbedModel)
		if err != nil {
			return nil, err
		}
		pg, err := retrieval.NewPGVector(ctx, rc.PGVector.DSN, rc.PGVector.Table, embedder)
		if err != nil {
			return nil, err
		}
		k.closers = append(k.closers, func() error { pg.Close(); return nil })
		return pg, nil
	case config.BackendMemory:
		mem, err := retrieval.LoadMemory(rc.Memory.CorpusPath)
		if err != nil {
			return nil, err
		}
		k.Logger.Info("Loaded %d corpus documents from %s", mem.Len(), rc.Memory.CorpusPath)
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q", rc.Backend)
	}
}

func (k *Kernel) ollamaHost() string {
	if host := os.Getenv(config.EnvOllamaHost); host != "" {
		return host
	}
	return k.Config.LLM.OllamaHost
}

func (k *Kernel) newSink(ctx context.Context) (supportlog.SessionLogger, error) {
	lc := k.Config.Logging
	var sinks supportlog.Multi
	if lc.HasSink(config.SinkCSV) {
		sinks = append(sinks, supportlog.NewCSVLogger(lc.SupportLogPath, lc.TicketsPath))
	}
	if lc.HasSink(config.SinkSQLite) {
		store, err := persistence.Open(ctx, lc.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		k.Store = store
		k.closers = append(k.closers, store.Close)
		sinks = append(sinks, store)
	}
	switch len(sinks) {
	case 0:
		return supportlog.Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Ready checks that the retrieval backend answers.
func (k *Kernel) Ready(ctx context.Context) error {
	return retrieval.Ready(ctx, k.Retrieval)
}

// NewSessionID returns a fresh session identifier.
func (k *Kernel) NewSessionID() string {
	return uuid.NewString()
}

// EngineConfig maps the session settings onto the engine.
func (k *Kernel) EngineConfig() engine.Config {
	sc := k.Config.Session
	return engine.Config{
		Limits: session.Limits{
			Gather:        sc.MaxGatherAttempts,
			Retrieval:     sc.MaxRetrievalAttempts,
			Clarification: sc.MaxClarificationRounds,
		},
		StepTimeout: sc.StepTimeout,
		LogTimeout:  sc.LogTimeout,
	}
}

// Capabilities builds the step capabilities talking to the user on channel.
func (k *Kernel) Capabilities(channel capability.UserChannel) (engine.Capabilities, error) {
	m := k.Config.Models
	var errs []error
	client := func(model string) llm.LLMClient {
		c, err := k.LLMFactory.CreateClient(m.ModelFor(model))
		if err != nil {
			errs = append(errs, err)
		}
		return c
	}

	gatherer := client(m.Gatherer)
	queryWriter := client(m.QueryWriter)
	quality := client(m.QualityChecker)
	toc := client(m.TOCAnalyzer)
	formulator := client(m.Formulator)
	assessor := client(m.ClarificationAssessor)
	feedback := client(m.Feedback)
	if err := errors.Join(errs...); err != nil {
		return engine.Capabilities{}, fmt.Errorf("failed to create LLM clients: %w", err)
	}

	budget := func(model string) capability.Budget {
		return capability.NewBudget(m.ModelFor(model), k.Config.Session.ContextTokenBudget)
	}

	return engine.Capabilities{
		ProductSelect:    capability.NewProductSelector(k.Catalog, channel, k.Config.Products.Candidates),
		Gather:           capability.NewGatherer(gatherer, channel),
		Retrieve:         capability.NewRetriever(queryWriter, k.Retrieval, k.Config.Retrieval.TopK, k.Config.LLM.Retry),
		QualityCheck:     capability.NewQualityChecker(quality, budget(m.QualityChecker)),
		PDFFallback:      capability.NewPDFFallback(toc, k.Library, k.Config.PDF.TOCPageThreshold),
		Formulate:        capability.NewFormulator(formulator, budget(m.Formulator)),
		Present:          capability.NewPresenter(channel),
		AskClarification: capability.NewClarificationPrompt(channel),
		ClarifyAssess:    capability.NewClarificationAssessor(assessor),
		Feedback:         capability.NewFeedbackCollector(feedback, channel),
		Escalate:         capability.NewEscalationNotifier(channel),
	}, nil
}

// NewOrchestrator returns an orchestrator whose sessions talk on channel.
func (k *Kernel) NewOrchestrator(channel capability.UserChannel, opts ...engine.Option) (*engine.Orchestrator, error) {
	caps, err := k.Capabilities(channel)
	if err != nil {
		return nil, err
	}
	opts = append([]engine.Option{engine.WithRecorder(k.Recorder)}, opts...)
	return engine.New(k.EngineConfig(), caps, k.Sink, opts...)
}

// Close writes the metrics textfile, when configured, and releases the
// backend and store.
func (k *Kernel) Close() error {
	var errs []error
	if path := k.Config.Metrics.TextfilePath; path != "" && k.Registry != nil {
		if err := metrics.WriteTextfile(path, k.Registry); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(k.closers) - 1; i >= 0; i-- {
		if err := k.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}
