package analyzer

import "sync"

// resultCache is the session-scoped memo of per-account analysis results.
// Entries live until the owning analyzer is cleared on sign-out.
type resultCache struct {
	mutex   sync.RWMutex
	entries map[string]AnalysisResult
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]AnalysisResult)}
}

func (cache *resultCache) get(did string) (AnalysisResult, bool) {
	cache.mutex.RLock()
	defer cache.mutex.RUnlock()
	entry, exists := cache.entries[did]
	return entry, exists
}

func (cache *resultCache) set(result AnalysisResult) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.entries[result.DID] = result
}

func (cache *resultCache) clear() {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.entries = make(map[string]AnalysisResult)
}
