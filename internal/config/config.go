// Package config loads the static role file spec.md §6 requires: every
// role instance with its (role, id, host, port), read identically by every
// process at startup. Membership is closed once loaded; nothing in this
// package supports adding or removing an instance at runtime (spec.md §1
// non-goal: dynamic membership).
package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Role names a process role. Values match the four spec.md §2 roles.
type Role string

const (
	RoleProposer Role = "proposer"
	RoleAcceptor Role = "acceptor"
	RoleLearner  Role = "learner"
	RoleClient   Role = "client"
)

// NodeFile is the on-disk shape of one role instance entry.
type NodeFile struct {
	Role string `yaml:"role" validate:"required,oneof=proposer acceptor learner client"`
	ID   int    `yaml:"id" validate:"gte=0"`
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,gt=0,lt=65536"`
}

// file is the on-disk shape of the whole config document.
type file struct {
	Nodes []NodeFile `yaml:"nodes" validate:"required,min=1,dive"`
}

// Node is one validated, addressable role instance.
type Node struct {
	Role Role
	ID   int
	Addr string
}

// Config is the closed, validated membership every role instance loads at
// startup. The acceptor count derived here fixes the quorum for the rest
// of the process's lifetime.
type Config struct {
	nodes []Node
}

// Load reads path as a static role file, the Configuration error of
// spec.md §7 being: missing file, malformed entry, or ambiguous id is a
// fatal startup error with a single-line diagnostic — callers print the
// error and exit non-zero, they do not retry.
func Load(path string) (*Config, error) {
	var f file
	if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("config: invalid entry in %s: %w", path, err)
	}

	seen := make(map[Role]map[int]bool)
	nodes := make([]Node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		role := Role(n.Role)
		if seen[role] == nil {
			seen[role] = make(map[int]bool)
		}
		if seen[role][n.ID] {
			return nil, fmt.Errorf("config: ambiguous id %d for role %s in %s", n.ID, role, path)
		}
		seen[role][n.ID] = true
		nodes = append(nodes, Node{
			Role: role,
			ID:   n.ID,
			Addr: net.JoinHostPort(n.Host, fmt.Sprintf("%d", n.Port)),
		})
	}

	return &Config{nodes: nodes}, nil
}

// OfRole returns every instance of the given role, in file order.
func (c *Config) OfRole(role Role) []Node {
	var out []Node
	for _, n := range c.nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// Acceptors returns the static acceptor set.
func (c *Config) Acceptors() []Node { return c.OfRole(RoleAcceptor) }

// Proposers returns the configured proposer set.
func (c *Config) Proposers() []Node { return c.OfRole(RoleProposer) }

// Learners returns the configured learner set.
func (c *Config) Learners() []Node { return c.OfRole(RoleLearner) }

// Clients returns the configured client set.
func (c *Config) Clients() []Node { return c.OfRole(RoleClient) }

// Quorum is ⌊N/2⌋+1 where N is the configured acceptor count (spec.md §3).
func (c *Config) Quorum() int {
	n := len(c.Acceptors())
	return n/2 + 1
}

// Find returns the instance addressed by (role, id), if configured.
func (c *Config) Find(role Role, id int) (Node, bool) {
	for _, n := range c.nodes {
		if n.Role == role && n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Self looks up this process's own entry, failing if it is not listed.
func (c *Config) Self(role Role, id int) (Node, error) {
	n, ok := c.Find(role, id)
	if !ok {
		return Node{}, fmt.Errorf("config: no %s instance with id %d is listed", role, id)
	}
	return n, nil
}
