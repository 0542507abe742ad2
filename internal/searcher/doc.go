// Package searcher answers semantic queries over a workspace index.
//
// A search embeds the query, runs a cosine search against the vector
// store and, when a reranker is configured, widens the fetch to TopN
// candidates and reranks them down to TopK. Only an Indexed or Indexing
// index may serve queries.
//
//	svc := searcher.New(cfgManager, state, emb, store,
//	    searcher.WithReranker(r),
//	    searcher.WithTelemetry(sink),
//	)
//	results, err := svc.SearchIndex(ctx, "find authentication logic", "src/auth")
//
// Embedding and vector store failures put the index in the Error state
// and are returned as ErrEmbeddingFailed or *SearchError. A failing
// reranker never fails the search: the first TopK vector results are
// returned with their original scores.
package searcher
