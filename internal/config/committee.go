// Package config holds the committee description and the node settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/pkg/party"
)

// CommitteeFile is the default name of the committee description.
const CommitteeFile = "committee-cfg.json"

// MemberInfo is how the orchestrator reaches a member.
type MemberInfo struct {
	Address string `json:"address"`
}

// Committee lists the members and the signing threshold.
type Committee struct {
	Threshold int                       `json:"threshold"`
	Members   map[party.ID]MemberInfo `json:"members"`
}

// BasePort + id is the local port of member id.
const BasePort = 8890

// LocalCommittee returns a committee of n members listening on consecutive
// local ports, starting at http://127.0.0.1:8891.
func LocalCommittee(n, threshold int) *Committee {
	c := &Committee{Threshold: threshold, Members: make(map[party.ID]MemberInfo, n)}
	for _, id := range party.Sequential(n) {
		c.Members[id] = MemberInfo{Address: fmt.Sprintf("http://127.0.0.1:%d", BasePort+int(id))}
	}
	return c
}

// Validate checks that 1 ≤ threshold ≤ n and that every member has an address.
func (c *Committee) Validate() error {
	if c.Threshold < 1 || c.Threshold > len(c.Members) {
		return api.Errorf(api.ErrConfiguration, "threshold %d with %d members", c.Threshold, len(c.Members))
	}
	for id, m := range c.Members {
		if err := id.Validate(); err != nil {
			return api.Wrap(api.ErrConfiguration, err)
		}
		if m.Address == "" {
			return api.Errorf(api.ErrConfiguration, "member %s has no address", id)
		}
	}
	return nil
}

// IDs returns the sorted member IDs.
func (c *Committee) IDs() party.IDSlice {
	ids := make([]party.ID, 0, len(c.Members))
	for id := range c.Members {
		ids = append(ids, id)
	}
	return party.NewIDSlice(ids)
}

// LoadCommittee reads and validates a committee file.
func LoadCommittee(path string) (*Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	c := new(Committee)
	if err = json.Unmarshal(data, c); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, fmt.Errorf("%s: %w", path, err))
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to path.
func (c *Committee) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config.Committee: %w", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config.Committee: %w", err)
	}
	return nil
}
