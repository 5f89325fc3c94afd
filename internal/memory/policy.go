package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Policy implements the C4 maintenance behaviors that don't belong on
// Archive itself: capacity-driven forgetting and topic clustering with
// a TTL'd summary cache. It operates against an Archive but keeps its
// own state (the cache), so it is a separate type rather than more
// Archive methods.
type Policy struct {
	archive *Archive

	maxMemories         int
	similarityThreshold float64
	maxTopicsPerCluster int
	minClusterSize      int
	summaryCacheTTL     time.Duration

	mu    sync.Mutex
	cache map[string]cachedSummary
}

type cachedSummary struct {
	summary   string
	expiresAt time.Time
}

// PolicyConfig configures a [Policy]. Zero values fall back to the
// defaults recorded in SPEC_FULL.md's Open Question dispositions.
type PolicyConfig struct {
	MaxMemories         int
	SimilarityThreshold float64
	MaxTopicsPerCluster int
	MinClusterSize      int
	SummaryCacheTTL     time.Duration
}

// DefaultPolicyConfig returns the reference defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxMemories:         1000,
		SimilarityThreshold: 0.7,
		MaxTopicsPerCluster: 3,
		MinClusterSize:      2,
		SummaryCacheTTL:     10 * time.Minute,
	}
}

// NewPolicy creates a Policy bound to archive.
func NewPolicy(archive *Archive, cfg PolicyConfig) *Policy {
	if cfg.MaxMemories <= 0 {
		cfg.MaxMemories = DefaultPolicyConfig().MaxMemories
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultPolicyConfig().SimilarityThreshold
	}
	if cfg.MaxTopicsPerCluster <= 0 {
		cfg.MaxTopicsPerCluster = DefaultPolicyConfig().MaxTopicsPerCluster
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultPolicyConfig().MinClusterSize
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = DefaultPolicyConfig().SummaryCacheTTL
	}
	return &Policy{
		archive:             archive,
		maxMemories:         cfg.MaxMemories,
		similarityThreshold: cfg.SimilarityThreshold,
		maxTopicsPerCluster: cfg.MaxTopicsPerCluster,
		minClusterSize:      cfg.MinClusterSize,
		summaryCacheTTL:     cfg.SummaryCacheTTL,
		cache:               make(map[string]cachedSummary),
	}
}

// score computes importance × recency-weight × access-count-weight,
// per the disposition recorded in SPEC_FULL.md: recency decays
// exponentially with a 14-day half-life-ish constant, and access
// count contributes via log1p so early reinforcement matters more
// than the hundredth recall.
func score(r *Record, now time.Time) float64 {
	ageDays := now.Sub(r.LastAccess).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recencyWeight := math.Exp(-ageDays / 14)
	accessWeight := math.Log1p(float64(r.AccessCount))
	return r.Importance * recencyWeight * accessWeight
}

// Forget evicts the lowest-scoring records once the archive holds
// more than maxMemories, returning the ids removed. System-sourced
// records are never evicted, matching the turn-pinning invariant
// short-term memory applies to system turns.
func (p *Policy) Forget() ([]string, error) {
	records, err := p.archive.AllMemories()
	if err != nil {
		return nil, fmt.Errorf("forget: list records: %w", err)
	}
	if len(records) <= p.maxMemories {
		return nil, nil
	}

	evictable := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.SourceType != SourceSystem {
			evictable = append(evictable, r)
		}
	}

	now := time.Now()
	sort.Slice(evictable, func(i, j int) bool {
		return score(evictable[i], now) < score(evictable[j], now)
	})

	excess := len(records) - p.maxMemories
	if excess > len(evictable) {
		excess = len(evictable)
	}

	var removed []string
	for i := 0; i < excess; i++ {
		if err := p.archive.Delete(evictable[i].ID); err != nil {
			return removed, fmt.Errorf("forget: delete %s: %w", evictable[i].ID, err)
		}
		removed = append(removed, evictable[i].ID)
	}
	if len(removed) > 0 {
		p.invalidateCache()
	}
	return removed, nil
}

// TopicCluster is a group of topics merged because their memory sets
// overlap above the similarity threshold, with a cached text summary.
type TopicCluster struct {
	Topics  []string
	Members []*Record
	Summary string
}

// Clusters builds topic→memory-set associations from current record
// metadata, drops singleton topics (rare topics carry no clustering
// signal), and merges topic pairs whose memory sets have Jaccard
// similarity at or above the configured threshold, up to
// maxTopicsPerCluster merges per cluster. Each surviving cluster gets
// a cached summary (header + count + top-N by importance) valid for
// summaryCacheTTL.
func (p *Policy) Clusters() ([]TopicCluster, error) {
	records, err := p.archive.AllMemories()
	if err != nil {
		return nil, fmt.Errorf("clusters: list records: %w", err)
	}

	topicMembers := make(map[string]map[string]*Record)
	for _, r := range records {
		for _, t := range r.Topics {
			if topicMembers[t] == nil {
				topicMembers[t] = make(map[string]*Record)
			}
			topicMembers[t][r.ID] = r
		}
	}

	// Drop singleton topics.
	for t, members := range topicMembers {
		if len(members) < p.minClusterSize {
			delete(topicMembers, t)
		}
	}

	topics := make([]string, 0, len(topicMembers))
	for t := range topicMembers {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	merged := make(map[string]bool)
	var clusters []TopicCluster
	for _, t := range topics {
		if merged[t] {
			continue
		}
		clusterTopics := []string{t}
		memberSet := topicMembers[t]
		mergeCount := 0
		for _, other := range topics {
			if other == t || merged[other] || mergeCount >= p.maxTopicsPerCluster {
				continue
			}
			sim := jaccard(memberSet, topicMembers[other])
			if sim >= p.similarityThreshold {
				clusterTopics = append(clusterTopics, other)
				merged[other] = true
				mergeCount++
				for id, r := range topicMembers[other] {
					memberSet[id] = r
				}
			}
		}
		merged[t] = true

		members := make([]*Record, 0, len(memberSet))
		for _, r := range memberSet {
			members = append(members, r)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Importance > members[j].Importance })

		cluster := TopicCluster{Topics: clusterTopics, Members: members}
		cluster.Summary = p.cachedSummary(cluster)
		clusters = append(clusters, cluster)
	}
	return clusters, nil
}

func jaccard(a, b map[string]*Record) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for id := range a {
		if _, ok := b[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// cachedSummary returns a cluster summary, recomputing and caching it
// if the TTL has expired or Forget has invalidated the cache.
func (p *Policy) cachedSummary(cluster TopicCluster) string {
	key := strings.Join(cluster.Topics, "+")

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		return entry.summary
	}

	const topN = 3
	n := topN
	if n > len(cluster.Members) {
		n = len(cluster.Members)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d memories)", strings.Join(cluster.Topics, ", "), len(cluster.Members))
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "\n- %s", memoryTypeFromContent(cluster.Members[i].Content))
	}
	summary := b.String()

	p.cache[key] = cachedSummary{summary: summary, expiresAt: time.Now().Add(p.summaryCacheTTL)}
	return summary
}

// invalidateCache drops all cached summaries. Only Forget calls it;
// records added, deleted or reinforced through the Archive or Manager
// do not invalidate the cache, so a cached summary can reflect the old
// membership until its TTL expires.
func (p *Policy) invalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cachedSummary)
}

// RunConsolidation performs one maintenance pass: forgetting followed
// by a cluster recompute (which refreshes the summary cache). It is
// the body the scheduler invokes on its periodic memory-consolidation
// task.
func (p *Policy) RunConsolidation() (evicted []string, clusters []TopicCluster, err error) {
	evicted, err = p.Forget()
	if err != nil {
		return nil, nil, err
	}
	clusters, err = p.Clusters()
	if err != nil {
		return evicted, nil, err
	}
	return evicted, clusters, nil
}
