package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/repairflow/internal/shared"
)

// RepositoryPort loads location nodes.
type RepositoryPort interface {
	Node(ctx context.Context, level Level, uuid string) (Node, error)
}

// Service resolves location chains.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ValidateChain checks that every set level exists and hangs from the level above it.
func (s *Service) ValidateChain(ctx context.Context, chain Chain) error {
	_, err := s.resolve(ctx, chain)
	return err
}

// Describe resolves the display names along chain.
func (s *Service) Describe(ctx context.Context, chain Chain) (Path, error) {
	nodes, err := s.resolve(ctx, chain)
	if err != nil {
		return Path{}, err
	}
	return Path{
		Warehouse: nodes[LevelWarehouse].Name,
		Rack:      nodes[LevelRack].Name,
		Floor:     nodes[LevelFloor].Name,
		Box:       nodes[LevelBox].Name,
	}, nil
}

func (s *Service) resolve(ctx context.Context, chain Chain) (map[Level]Node, error) {
	nodes := make(map[Level]Node, 4)
	var parent *Node
	gap := Level("")
	for _, l := range chain.links() {
		if l.uuid == nil || *l.uuid == "" {
			if gap == "" {
				gap = l.level
			}
			parent = nil
			continue
		}
		if gap != "" {
			return nil, shared.Invalid(string(l.level)+"_uuid", fmt.Sprintf("requires %s_uuid", gap))
		}
		node, err := s.repo.Node(ctx, l.level, *l.uuid)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.Invalid(string(l.level)+"_uuid", "does not exist")
		}
		if err != nil {
			return nil, err
		}
		if parent != nil && node.ParentUUID != parent.UUID {
			return nil, shared.Invalid(string(l.level)+"_uuid", fmt.Sprintf("is not inside %s %s", l.level.parent(), parent.UUID))
		}
		nodes[l.level] = node
		parent = &node
	}
	return nodes, nil
}
