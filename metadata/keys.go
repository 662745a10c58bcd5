package metadata

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Kind selects how pending changes to a key are merged and flushed.
type Kind int

const (
	// KindPlain values are overwritten on flush.
	KindPlain Kind = iota
	// KindIncrement values accumulate a delta applied by one atomic statement.
	KindIncrement
	// KindAppend values are lists extended by one atomic statement.
	KindAppend
)

func (k Kind) String() string {
	switch k {
	case KindIncrement:
		return "increment"
	case KindAppend:
		return "append"
	}
	return "plain"
}

// Key names a row of the metadata table.
type Key string

const (
	LastProcessedHeight    Key = "lastProcessedHeight"
	LastProcessedTimestamp Key = "lastProcessedTimestamp"
	ProcessedBlockCount    Key = "processedBlockCount"
	SchemaMigrationCount   Key = "schemaMigrationCount"
	DynamicDatasources     Key = "dynamicDatasources"
	Chain                  Key = "chain"
	GenesisHash            Key = "genesisHash"
	StartHeight            Key = "startHeight"
	IndexerVersion         Key = "indexerNodeVersion"
)

// Kind returns the merge semantics of the key. Keys not listed here are plain.
func (k Key) Kind() Kind {
	switch k {
	case ProcessedBlockCount, SchemaMigrationCount:
		return KindIncrement
	case DynamicDatasources:
		return KindAppend
	default:
		return KindPlain
	}
}

// DynamicDatasource is a datasource created from a template while indexing.
// It becomes active at StartBlock.
type DynamicDatasource struct {
	TemplateName string         `json:"templateName"`
	StartBlock   int64          `json:"startBlock"`
	Args         map[string]any `json:"args,omitempty"`
}

// Validate checks the datasource fields.
func (d DynamicDatasource) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.TemplateName, validation.Required),
		validation.Field(&d.StartBlock, validation.Min(int64(0))),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid dynamic datasource")
	}
	return nil
}

// TrimDatasources returns the datasources that start at or below height.
func TrimDatasources(list []DynamicDatasource, height int64) []DynamicDatasource {
	out := make([]DynamicDatasource, 0, len(list))
	for _, d := range list {
		if d.StartBlock <= height {
			out = append(out, d)
		}
	}
	return out
}
