package core

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds parsed relation trees keyed by model and path list.
type Cache struct {
	cache *lru.TwoQueueCache[string, []*relNode]
}

// initCache initializes the cache
func (dj *DocJin) initCache() (err error) {
	dj.cache.cache, err = lru.New2Q[string, []*relNode](dj.conf.relationCacheSize())
	return
}

// Get returns the value from the cache
func (c Cache) Get(key string) (val []*relNode, fromCache bool) {
	val, fromCache = c.cache.Get(key)
	return
}

// Set sets the value in the cache
func (c Cache) Set(key string, val []*relNode) {
	c.cache.Add(key, val)
}

// relations parses relation paths for m, reusing earlier parses.
func (dj *DocJin) relations(m *Model, paths []string) ([]*relNode, error) {
	key := fmt.Sprintf("%p|%s", m, strings.Join(paths, ","))
	if nodes, ok := dj.cache.Get(key); ok {
		return nodes, nil
	}
	nodes, err := parseRelations(m, paths)
	if err != nil {
		return nil, err
	}
	dj.cache.Set(key, nodes)
	return nodes, nil
}
