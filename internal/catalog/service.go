package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort is the persistence contract of the catalog.
type RepositoryPort interface {
	NamesByUUID(ctx context.Context, kind Kind, uuids []string) (map[string]string, error)
}

// Service resolves names through the cache, coalescing concurrent database lookups.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs the service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// ResolveProblemNames maps each problem UUID to its name, nil when unknown.
func (s *Service) ResolveProblemNames(ctx context.Context, uuids []string) (Names, error) {
	return s.resolve(ctx, KindProblem, uuids)
}

// ResolveAccessoryNames maps each accessory UUID to its name, nil when unknown.
func (s *Service) ResolveAccessoryNames(ctx context.Context, uuids []string) (Names, error) {
	return s.resolve(ctx, KindAccessory, uuids)
}

// Resolve runs both lookups concurrently.
func (s *Service) Resolve(ctx context.Context, problems, accessories []string) (Resolved, error) {
	var out Resolved
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := s.ResolveProblemNames(gctx, problems)
		out.Problems = names
		return err
	})
	g.Go(func() error {
		names, err := s.ResolveAccessoryNames(gctx, accessories)
		out.Accessories = names
		return err
	})
	if err := g.Wait(); err != nil {
		return Resolved{}, err
	}
	return out, nil
}

// resolve answers under the caller's spelling of each UUID. Cache and database are keyed by the
// lower-case form, which is how PostgreSQL prints a uuid.
func (s *Service) resolve(ctx context.Context, kind Kind, uuids []string) (Names, error) {
	ids := dedupe(uuids)
	result := make(Names, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, strings.ToLower(id))
	}
	keys = dedupe(keys)

	found, missing, err := s.cache.Lookup(ctx, kind, keys)
	if err != nil {
		s.logger.Warn("catalog cache lookup failed", slog.String("kind", string(kind)), slog.Any("error", err))
		found, missing = map[string]string{}, keys
	}
	if len(missing) > 0 {
		loaded, err := s.load(ctx, kind, missing)
		if err != nil {
			return nil, fmt.Errorf("catalog: resolve %s names: %w", kind, err)
		}
		for id, name := range loaded {
			found[id] = name
		}
	}
	for _, id := range ids {
		if name, ok := found[strings.ToLower(id)]; ok {
			result[id] = &name
		} else {
			result[id] = nil
		}
	}
	return result, nil
}

func (s *Service) load(ctx context.Context, kind Kind, ids []string) (map[string]string, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	key := string(kind) + ":" + strings.Join(sorted, ",")

	ch := s.group.DoChan(key, func() (interface{}, error) {
		names, err := s.repo.NamesByUUID(context.WithoutCancel(ctx), kind, sorted)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Store(context.WithoutCancel(ctx), kind, names); err != nil {
			s.logger.Warn("catalog cache store failed", slog.String("kind", string(kind)), slog.Any("error", err))
		}
		return names, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]string), nil
	}
}
