// Package entity derives the stable composite keys that identify topology
// entities across collection cycles and process restarts.
package entity

import (
	"fmt"
	"strings"

	"github.com/platformbuilds/mq-entity-bridge/internal/model"
)

// Delimiter separates the GUID fields. It is reserved: no field value may
// contain it.
const Delimiter = "|"

// DeriveGUID returns the entity GUID for the given natural key:
//
//	{entityType}|{accountId}|{provider}|{clusterName}|{localId}
//
// The format is fixed for compatibility with downstream consumers. The
// function is pure and deterministic; a field containing the delimiter is
// rejected with model.ErrValidation rather than escaped.
func DeriveGUID(entityType model.EntityType, accountID string, provider model.Provider, clusterName, localID string) (string, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"entityType", string(entityType)},
		{"accountId", accountID},
		{"provider", string(provider)},
		{"clusterName", clusterName},
		{"localId", localID},
	}
	for _, f := range fields {
		if strings.Contains(f.value, Delimiter) {
			return "", fmt.Errorf("%w: field %s value %q contains reserved delimiter %q",
				model.ErrValidation, f.name, f.value, Delimiter)
		}
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", entityType, accountID, provider, clusterName, localID), nil
}
