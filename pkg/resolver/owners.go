package resolver

import (
	"context"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// StaticOwnerDirectory is an in-memory OwnerLookup keyed by handle, for
// tests and local development
type StaticOwnerDirectory struct {
	Owners map[string]OwnerInfo
}

// LookupOwner implements OwnerLookup
func (d *StaticOwnerDirectory) LookupOwner(_ context.Context, handle string) (OwnerInfo, error) {
	if info, ok := d.Owners[handle]; ok {
		return info, nil
	}
	return OwnerInfo{}, errors.NotFound("owner", handle)
}
