package config

// RequiresRestart classifies a reload. It reports whether the embedder,
// vector store and scanner built from prev must be torn down and rebuilt
// for next. Rules apply in order:
//
//  1. not ready -> ready: restart (first activation)
//  2. enabled -> disabled: restart (teardown)
//  3. not ready before and not ready now: no restart
//  4. disabled now: no restart
//  5. restart when the embedder provider, vector store provider, any
//     provider credential or base URL, the explicit dimension, the active
//     vector store connection, or the dimension implied by the model changed
//  6. otherwise no restart
func RequiresRestart(prev, next Snapshot) bool {
	p, n := prev.Config, next.Config

	if !prev.Ready() && next.Ready() {
		return true
	}
	if p.Enabled && !n.Enabled {
		return true
	}
	if !prev.Ready() && !next.Ready() {
		return false
	}
	if !n.Enabled {
		return false
	}

	if p.EmbedderProvider != n.EmbedderProvider {
		return true
	}
	if p.VectorStoreProvider != n.VectorStoreProvider {
		return true
	}
	if credentialsChanged(p, n) {
		return true
	}
	if p.ModelDimension != n.ModelDimension {
		return true
	}
	if vectorStoreConnectionChanged(p, n) {
		return true
	}
	return impliedDimensionChanged(p, n)
}

func credentialsChanged(p, n Config) bool {
	return p.OpenAI != n.OpenAI ||
		p.OpenAICompatible != n.OpenAICompatible ||
		p.Ollama != n.Ollama ||
		p.Gemini != n.Gemini ||
		p.Mistral != n.Mistral
}

// vectorStoreConnectionChanged compares the connection fields the active
// provider actually uses
func vectorStoreConnectionChanged(p, n Config) bool {
	switch n.VectorStoreProvider {
	case VectorStoreQdrant:
		return p.VectorStore.URL != n.VectorStore.URL || p.VectorStore.APIKey != n.VectorStore.APIKey
	default:
		return p.VectorStore.Path != n.VectorStore.Path
	}
}

// impliedDimensionChanged catches model swaps whose profiles differ in
// dimension. Unknown models never trigger it.
func impliedDimensionChanged(p, n Config) bool {
	prevDim := ModelDimension(p.EmbedderProvider, p.EffectiveModelID())
	nextDim := ModelDimension(n.EmbedderProvider, n.EffectiveModelID())
	return prevDim > 0 && nextDim > 0 && prevDim != nextDim
}
