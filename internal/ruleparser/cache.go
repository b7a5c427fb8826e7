package ruleparser

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultCacheCapacity bounds the step-dependent cache on long series.
const DefaultCacheCapacity = 1000

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	ParamSize   int     `yaml:"param_cache_size" json:"param_cache_size"`
	StepSize    int     `yaml:"step_cache_size" json:"step_cache_size"`
	ParamHits   int     `yaml:"param_cache_hits" json:"param_cache_hits"`
	ParamMisses int     `yaml:"param_cache_misses" json:"param_cache_misses"`
	StepHits    int     `yaml:"step_cache_hits" json:"step_cache_hits"`
	StepMisses  int     `yaml:"step_cache_misses" json:"step_cache_misses"`
	HitRate     float64 `yaml:"hit_rate" json:"hit_rate"`
}

// CacheManager is the run's single caching capability, shared by the
// evaluator and the indicator dispatch path. It keeps two tiers: a
// step-independent cache for pure parameter-keyed results that live
// for the whole run, and a step-dependent cache bounded by LRU
// eviction. Keys are short content hashes of function name, optional
// step, and arguments.
type CacheManager struct {
	capacity int

	paramCache map[string]float64

	stepCache map[string]*list.Element
	lru       *list.List

	paramHits   int
	paramMisses int
	stepHits    int
	stepMisses  int
}

type cacheEntry struct {
	key   string
	value float64
}

// NewCacheManager creates a cache with the given step-dependent
// capacity; capacity <= 0 falls back to the default.
func NewCacheManager(capacity int) *CacheManager {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	return &CacheManager{
		capacity:   capacity,
		paramCache: make(map[string]float64),
		stepCache:  make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// ParamKey builds a step-independent key from a function name and its
// arguments.
func (c *CacheManager) ParamKey(funcName string, args ...string) string {
	return hashKey(fmt.Sprintf("%s:%s", funcName, strings.Join(args, ",")))
}

// StepKey builds a step-dependent key from a function name, the step,
// and the arguments.
func (c *CacheManager) StepKey(funcName string, step int, args ...string) string {
	return hashKey(fmt.Sprintf("%s:%d:%s", funcName, step, strings.Join(args, ",")))
}

func hashKey(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// GetParam reads the step-independent tier.
func (c *CacheManager) GetParam(key string) (float64, bool) {
	v, ok := c.paramCache[key]
	if ok {
		c.paramHits++
	} else {
		c.paramMisses++
	}

	return v, ok
}

// SetParam writes the step-independent tier.
func (c *CacheManager) SetParam(key string, value float64) {
	c.paramCache[key] = value
}

// GetStep reads the step-dependent tier, refreshing recency on hit.
func (c *CacheManager) GetStep(key string) (float64, bool) {
	elem, ok := c.stepCache[key]
	if !ok {
		c.stepMisses++
		return 0, false
	}

	c.stepHits++
	c.lru.MoveToBack(elem)

	return elem.Value.(*cacheEntry).value, true
}

// SetStep writes the step-dependent tier, evicting the least recently
// used entries past capacity.
func (c *CacheManager) SetStep(key string, value float64) {
	if elem, ok := c.stepCache[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.lru.MoveToBack(elem)

		return
	}

	c.stepCache[key] = c.lru.PushBack(&cacheEntry{key: key, value: value})

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Front()
		c.lru.Remove(oldest)
		delete(c.stepCache, oldest.Value.(*cacheEntry).key)
	}
}

// Clear drops both tiers; counters keep accumulating.
func (c *CacheManager) Clear() {
	c.paramCache = make(map[string]float64)
	c.stepCache = make(map[string]*list.Element)
	c.lru = list.New()
}

// Stats returns a snapshot of sizes and hit counters.
func (c *CacheManager) Stats() CacheStats {
	total := c.paramHits + c.paramMisses + c.stepHits + c.stepMisses

	rate := 0.0
	if total > 0 {
		rate = float64(c.paramHits+c.stepHits) / float64(total)
	}

	return CacheStats{
		ParamSize:   len(c.paramCache),
		StepSize:    len(c.stepCache),
		ParamHits:   c.paramHits,
		ParamMisses: c.paramMisses,
		StepHits:    c.stepHits,
		StepMisses:  c.stepMisses,
		HitRate:     rate,
	}
}
