package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Memory is a Registry living in memory.
type Memory struct {
	mu          sync.RWMutex
	deployments map[chainhash.Hash]Deployment
}

// NewMemory returns a Registry holding the given deployments.
func NewMemory(deployments ...*Deployment) *Memory {
	m := &Memory{deployments: make(map[chainhash.Hash]Deployment, len(deployments))}
	for _, d := range deployments {
		m.deployments[d.TxID] = *d
	}
	return m
}

// Get implements Registry.
func (m *Memory) Get(_ context.Context, txid chainhash.Hash) (*Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[txid]
	if !ok {
		return nil, notFound(txid)
	}
	return &d, nil
}

// Put implements Registry.
func (m *Memory) Put(_ context.Context, d *Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.deployments[d.TxID]; ok {
		if !existing.Equal(d) {
			return conflict(d.TxID)
		}
		return nil
	}
	m.deployments[d.TxID] = *d
	return nil
}

// All returns a copy of every deployment.
func (m *Memory) All() []*Deployment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Deployment, 0, len(m.deployments))
	for _, d := range m.deployments {
		d := d
		out = append(out, &d)
	}
	return out
}

// LoadFile reads a JSON list of deployments into a Memory registry.
//
// A missing file yields an empty registry.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("deployment.LoadFile: %w", err)
	}
	var deployments []*Deployment
	if err = json.Unmarshal(data, &deployments); err != nil {
		return nil, fmt.Errorf("deployment.LoadFile: %w", err)
	}
	return NewMemory(deployments...), nil
}

// SaveFile writes every deployment of m as a JSON list.
func (m *Memory) SaveFile(path string) error {
	data, err := json.MarshalIndent(m.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("deployment.SaveFile: %w", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("deployment.SaveFile: %w", err)
	}
	return nil
}
