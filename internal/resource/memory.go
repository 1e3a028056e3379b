// Package resource provides the records an approved request discloses.
package resource

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"accessgate/internal/approval/models"
	dErrors "accessgate/pkg/domain-errors"
)

type key struct {
	targetType models.TargetType
	targetID   string
}

// MemoryProvider serves records held in process. Used for development and
// when no resource database is configured.
type MemoryProvider struct {
	mu      sync.RWMutex
	records map[key]map[string]any
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{records: make(map[key]map[string]any)}
}

// LoadFixtures reads a YAML file keyed by target type, then target id:
//
//	student:
//	  stu-1: {name: Ada, grade: 7}
func LoadFixtures(path string) (*MemoryProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource fixtures: %w", err)
	}
	var doc map[string]map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse resource fixtures %s: %w", path, err)
	}
	p := NewMemoryProvider()
	for rawType, records := range doc {
		targetType := models.TargetType(rawType)
		if !targetType.IsValid() {
			return nil, fmt.Errorf("resource fixtures %s: unknown target type %q", path, rawType)
		}
		for targetID, record := range records {
			p.Put(targetType, targetID, record)
		}
	}
	return p, nil
}

// Len reports how many records are held.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Put stores a copy of record.
func (p *MemoryProvider) Put(targetType models.TargetType, targetID string, record map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[key{targetType, targetID}] = maps.Clone(record)
}

// Fetch returns a copy of the record so callers cannot mutate the source.
func (p *MemoryProvider) Fetch(_ context.Context, targetType models.TargetType, targetID string) (map[string]any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	record, ok := p.records[key{targetType, targetID}]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "target resource not found")
	}
	return maps.Clone(record), nil
}
