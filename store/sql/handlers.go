package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// recordHandlers builds repository handlers for records keyed by a string
// "id" column. ref returns nil for a nil record.
func recordHandlers[T any](newRecord func() T, ref func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			id := ref(record)
			if id == nil {
				return uuid.Nil
			}
			return parseUUID(*id)
		},
		SetID: func(record T, id uuid.UUID) {
			if ptr := ref(record); ptr != nil {
				*ptr = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			id := ref(record)
			if id == nil {
				return ""
			}
			return strings.TrimSpace(*id)
		},
	}
}

func runHandlers() repository.ModelHandlers[*runRecord] {
	return recordHandlers(
		func() *runRecord { return &runRecord{} },
		func(record *runRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func siteHandlers() repository.ModelHandlers[*siteRecord] {
	return recordHandlers(
		func() *siteRecord { return &siteRecord{} },
		func(record *siteRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func identityLinkHandlers() repository.ModelHandlers[*identityLinkRecord] {
	return recordHandlers(
		func() *identityLinkRecord { return &identityLinkRecord{} },
		func(record *identityLinkRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func verificationOutcomeHandlers() repository.ModelHandlers[*verificationOutcomeRecord] {
	return recordHandlers(
		func() *verificationOutcomeRecord { return &verificationOutcomeRecord{} },
		func(record *verificationOutcomeRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return recordHandlers(
		func() *rateLimitStateRecord { return &rateLimitStateRecord{} },
		func(record *rateLimitStateRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func newRepository[T any](db *bun.DB, handlers repository.ModelHandlers[T], label string) (repository.Repository[T], error) {
	repo := repository.NewRepository[T](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", label, err)
		}
	}
	return repo, nil
}
