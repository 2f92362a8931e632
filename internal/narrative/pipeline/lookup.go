package pipeline

import (
	"context"

	"fabula/internal/narrative"
	"fabula/internal/narrative/lookup"
	"fabula/internal/narrative/retrieve"
)

// LookupRequest is one describer invocation submitted to the lookup
// pipeline: fetch lore sources, select sections, assemble the describer
// prompt, generate.
type LookupRequest struct {
	Settings   narrative.DirectiveSettings
	Query      string
	SelectMaxN int
}

// LookupPipeline wires the retrieval fetcher into the lookup assembler,
// which internally consults the section selector and the model adapter.
type LookupPipeline struct {
	fetcher   *retrieve.Fetcher
	assembler *lookup.Assembler
}

// NewLookupPipeline constructs a LookupPipeline.
func NewLookupPipeline(fetcher *retrieve.Fetcher, assembler *lookup.Assembler) *LookupPipeline {
	return &LookupPipeline{fetcher: fetcher, assembler: assembler}
}

// Run fetches lore sources for req.Query, then assembles and generates the
// describer response. Retrieval is never fatal as a whole: individual
// source failures are absorbed by the Fetcher; only a search-backend
// failure propagates here.
func (p *LookupPipeline) Run(ctx context.Context, req LookupRequest) (string, error) {
	sources, err := p.fetcher.Fetch(ctx, req.Query)
	if err != nil {
		return "", err
	}

	return p.assembler.Build(ctx, lookup.Inputs{
		Settings:   req.Settings,
		Query:      req.Query,
		Sources:    sources,
		SelectMaxN: req.SelectMaxN,
	})
}
