package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"

	"git-arcade/store"
)

// ContentService imports reference content and refreshes the variable cache.
type ContentService struct {
	Store store.ReferenceStore
	Vars  *VariableCache
}

func NewContentService(s store.ReferenceStore, vars *VariableCache) *ContentService {
	return &ContentService{Store: s, Vars: vars}
}

// DecodeBundle reads a JSON content bundle.
func DecodeBundle(r io.Reader) (store.ContentBundle, error) {
	var b store.ContentBundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return b, fmt.Errorf("decode content bundle: %w", err)
	}
	return b, nil
}

// Import fills in derived fields, upserts the bundle and reloads the
// variable pools.
func (s *ContentService) Import(ctx context.Context, b store.ContentBundle) error {
	for i := range b.Worlds {
		if b.Worlds[i].Slug == "" {
			b.Worlds[i].Slug = slug.Make(b.Worlds[i].Name)
		}
	}
	if err := s.Store.ImportContent(ctx, b); err != nil {
		return err
	}
	log.Info().Str("component", "content").
		Int("worlds", len(b.Worlds)).
		Int("challenges", len(b.Challenges)).
		Int("states", len(b.GitStates)).
		Int("transitions", len(b.ValidTransitions)).
		Int("variables", len(b.DynamicVariables)).
		Msg("content imported")
	if s.Vars != nil {
		return s.Vars.Reload(ctx)
	}
	return nil
}
