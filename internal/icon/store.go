// Package icon loads marker graphics, synthesises labelled cluster icons and
// memoizes both per clustering session.
package icon

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Store is one session generation of icon sources and rendered icons. A new
// build gets a new Store; the old one is dropped whole.
type Store struct {
	fetcher *Fetcher
	sources *Cache[*Source]
	icons   *Cache[*Icon]
}

// NewStore returns an empty store loading sources through f.
func NewStore(f *Fetcher) *Store {
	return &Store{
		fetcher: f,
		sources: NewCache[*Source](),
		icons:   NewCache[*Icon](),
	}
}

// Source loads and parses ref once. Vector references are read as markup,
// anything else is decoded as a raster image.
func (s *Store) Source(ctx context.Context, ref string) (*Source, error) {
	return s.sources.GetOrBuild(ctx, ref, func(ctx context.Context) (*Source, error) {
		if IsVector(ref) {
			markup, err := s.fetcher.FetchText(ctx, ref)
			if err != nil {
				return nil, err
			}
			return ParseSource(ref, []byte(markup))
		}
		img, err := s.fetcher.FetchImage(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &Source{Ref: ref, Kind: Raster, Image: img}, nil
	})
}

// Prefetch loads the distinct refs concurrently and returns the first error.
// Cancelling ctx aborts the remaining fetches.
func (s *Store) Prefetch(ctx context.Context, refs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := map[string]bool{}
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		g.Go(func() error {
			_, err := s.Source(gctx, ref)
			return err
		})
	}
	return g.Wait()
}

// ClusterKey identifies a labelled cluster icon.
func ClusterKey(ref, color string, size, weight int) string {
	return fmt.Sprintf("c-%s-%d-%d-%s", strings.TrimPrefix(color, "#"), size, weight, shortRef(ref))
}

// StaticKey identifies an unlabelled icon such as the noise marker.
func StaticKey(ref string, size int, tags map[string]string) string {
	key := fmt.Sprintf("s-%d-%s", size, shortRef(ref))
	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for k := range tags {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			key += "-" + k + "=" + tags[k]
		}
	}
	return key
}

// shortRef keeps keys readable while staying distinct per reference.
func shortRef(ref string) string {
	if IsInline(ref) {
		return fmt.Sprintf("inline%08x", fnv32(ref))
	}
	return fmt.Sprintf("%08x", fnv32(ref))
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// ClusterIcon returns the icon for a cluster of weight drawn from ref.
func (s *Store) ClusterIcon(ctx context.Context, ref, color string, size, weight int, tags map[string]string) (*Icon, error) {
	key := ClusterKey(ref, color, size, weight)
	return s.icons.GetOrBuild(ctx, key, func(ctx context.Context) (*Icon, error) {
		src, err := s.Source(ctx, ref)
		if err != nil {
			return nil, err
		}
		return Compose(key, src, Spec{Color: color, Size: size, Label: FormatWeight(weight), Tags: tags})
	})
}

// StaticIcon returns an unlabelled icon drawn from ref.
func (s *Store) StaticIcon(ctx context.Context, ref, color string, size int, tags map[string]string) (*Icon, error) {
	key := StaticKey(ref, size, tags)
	if color != "" {
		key += "-" + strings.TrimPrefix(color, "#")
	}
	return s.icons.GetOrBuild(ctx, key, func(ctx context.Context) (*Icon, error) {
		src, err := s.Source(ctx, ref)
		if err != nil {
			return nil, err
		}
		return Compose(key, src, Spec{Color: color, Size: size, Tags: tags})
	})
}

// Lookup returns a rendered icon by key.
func (s *Store) Lookup(key string) (*Icon, bool) { return s.icons.Get(key) }

// Stats reports icon cache activity. Source fetches are not included.
func (s *Store) Stats() Stats { return s.icons.Stats() }

// SourceStats reports source cache activity.
func (s *Store) SourceStats() Stats { return s.sources.Stats() }
