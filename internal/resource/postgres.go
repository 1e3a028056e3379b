package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"accessgate/internal/approval/models"
	dErrors "accessgate/pkg/domain-errors"
)

// Querier is the subset of *pgxpool.Pool the provider needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Table locates the records for one target type.
type Table struct {
	Name      string
	KeyColumn string
}

// DefaultTables maps each target type to its conventional table.
func DefaultTables() map[models.TargetType]Table {
	return map[models.TargetType]Table{
		models.TargetStudent:      {Name: "students", KeyColumn: "id"},
		models.TargetSchool:       {Name: "schools", KeyColumn: "id"},
		models.TargetOrganization: {Name: "organizations", KeyColumn: "id"},
		models.TargetPlatform:     {Name: "platform_settings", KeyColumn: "key"},
	}
}

// PostgresProvider reads a target row as JSON. Only tables registered at
// construction can be queried; identifiers are quoted, never interpolated
// from request input.
type PostgresProvider struct {
	db      Querier
	queries map[models.TargetType]string
}

func NewPostgresProvider(db Querier, tables map[models.TargetType]Table) *PostgresProvider {
	queries := make(map[models.TargetType]string, len(tables))
	for targetType, t := range tables {
		queries[targetType] = fmt.Sprintf(
			"SELECT row_to_json(t) FROM %s AS t WHERE t.%s::text = $1",
			pgx.Identifier{t.Name}.Sanitize(),
			pgx.Identifier{t.KeyColumn}.Sanitize(),
		)
	}
	return &PostgresProvider{db: db, queries: queries}
}

func (p *PostgresProvider) Fetch(ctx context.Context, targetType models.TargetType, targetID string) (map[string]any, error) {
	query, ok := p.queries[targetType]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no resource source for target type "+string(targetType))
	}

	var raw []byte
	if err := p.db.QueryRow(ctx, query, targetID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "target resource not found")
		}
		return nil, fmt.Errorf("fetch %s resource: %w", targetType, err)
	}

	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode %s resource: %w", targetType, err)
	}
	return record, nil
}
