package services

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// contentCache keeps recently evaluated document text in memory so that
// evaluating one document against many controls reads it once.
type contentCache struct {
	lru *expirable.LRU[string, string]
}

func newContentCache(size int, ttl time.Duration) *contentCache {
	if size <= 0 {
		return nil
	}
	return &contentCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *contentCache) get(documentID string) (string, bool) {
	if c == nil {
		return "", false
	}
	text, ok := c.lru.Get(documentID)
	if ok {
		contentCacheHits.Inc()
		return text, true
	}
	contentCacheMisses.Inc()
	return "", false
}

func (c *contentCache) add(documentID, text string) {
	if c == nil {
		return
	}
	c.lru.Add(documentID, text)
}

func (c *contentCache) remove(documentID string) {
	if c == nil {
		return
	}
	c.lru.Remove(documentID)
}
