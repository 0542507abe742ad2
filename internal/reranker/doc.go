// Package reranker reorders vector search candidates with a cross-encoder.
//
// LocalReranker talks to a self-hosted service: POST /rerank with
// {query, documents: [{id, content, metadata}], max_results} answered by
// [{id, score, rank}], and GET /health. CohereReranker uses the Cohere
// rerank API. Both emit an OpenTelemetry span per call.
package reranker
