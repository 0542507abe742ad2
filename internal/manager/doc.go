// Package manager runs the lifecycle of a workspace code index.
//
// Manager loads the configuration, builds the embedder, vector store,
// scanner, watcher and search service through a ServiceFactory, and moves
// the index through Standby, Indexing, Indexed and Error. StateManager
// publishes every change to subscribed listeners.
//
// A failed indexing run leaves the index in Error. Unless the failure was
// a provider rate limit, the collection and hash cache are cleared so the
// next run re-embeds everything. RecoverFromError returns to Standby and
// drops all services; call Initialize again afterwards.
package manager
