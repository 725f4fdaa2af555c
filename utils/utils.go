package utils

import (
	"sort"
	"strings"

	"github.com/gofrs/uuid"
)

var idNamespace = uuid.Must(uuid.FromString("7c9e6679-7425-40de-944b-e07fc1f90ae7"))

// GenUuidFromStrings derives a deterministic uuid from a set of parts,
// independent of their order.
func GenUuidFromStrings(parts ...string) string {
	if len(parts) == 0 {
		parts = append(parts, uuid.Nil.String())
	}

	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	return uuid.NewV5(idNamespace, strings.Join(sorted, ":")).String()
}
