package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/extract"
	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/retrieval"
	"github.com/sells-group/quotefill/internal/schema"
	"github.com/sells-group/quotefill/internal/store"
	anthropicpkg "github.com/sells-group/quotefill/pkg/anthropic"
	"github.com/sells-group/quotefill/pkg/jina"
)

// extractEnv holds the store, retrieval stack, and engine shared by the
// extract/serve/feedback commands.
type extractEnv struct {
	Store     store.Store
	Index     *retrieval.Index
	Retriever *retrieval.Retriever
	Recorder  *extract.Recorder
	Curator   *extract.Curator
	Engine    *extract.Engine
}

// Close releases resources held by the environment.
func (e *extractEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEmbedder builds the embeddings client. A missing key disables the
// similarity path; retrieval falls back to the store's quality ranking.
func initEmbedder() retrieval.Embedder {
	if cfg.Jina.Key == "" {
		zap.L().Info("no embeddings key configured, retrieval uses quality ranking only")
		return nil
	}
	opts := []jina.Option{}
	if cfg.Jina.BaseURL != "" {
		opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	if cfg.Jina.Model != "" {
		opts = append(opts, jina.WithModel(cfg.Jina.Model))
	}
	return jina.NewClient(cfg.Jina.Key, opts...)
}

// initEnv sets up the store, warms the retrieval index, and builds the
// extraction engine. Callers should defer env.Close().
func initEnv(ctx context.Context) (*extractEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (QUOTEFILL_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	embedder := initEmbedder()
	index := retrieval.NewIndex()
	if err := index.Warm(ctx, st); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "warm retrieval index")
	}
	zap.L().Info("retrieval index warmed", zap.Int("examples", index.Len()))

	retriever := retrieval.NewRetriever(st, embedder, index, cfg.Retrieval)
	recorder := extract.NewRecorder(st, embedder, index, cfg.Feedback)

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	extractor := extract.NewExtractor(client, cfg.Anthropic.ClientConfig)
	engine := extract.NewEngine(extractor, retriever, recorder, cfg.Extraction)

	return &extractEnv{
		Store:     st,
		Index:     index,
		Retriever: retriever,
		Recorder:  recorder,
		Curator:   extract.NewCurator(st, cfg.Curation),
		Engine:    engine,
	}, nil
}

// initFeedbackEnv sets up just the store and recorder, for commands that
// never call the model.
func initFeedbackEnv(ctx context.Context) (store.Store, *extract.Recorder, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	return st, extract.NewRecorder(st, initEmbedder(), nil, cfg.Feedback), nil
}

// loadSchema resolves a variant name against the schemas directory, unless
// an explicit path is given.
func loadSchema(schemaPath, variant string) (*model.Schema, error) {
	if schemaPath != "" {
		return schema.Load(schemaPath)
	}
	if variant == "" {
		return nil, eris.New("either --schema or --variant is required")
	}
	return schema.Load(filepath.Join(cfg.Schemas.Dir, variant+".yaml"))
}
